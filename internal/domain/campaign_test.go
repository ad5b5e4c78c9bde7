package domain

import "testing"

func TestCampaignStatusCanTransition(t *testing.T) {
	tests := []struct {
		from CampaignStatus
		to   CampaignStatus
		want bool
	}{
		{CampaignDraft, CampaignSending, true},
		{CampaignDraft, CampaignScheduled, true},
		{CampaignScheduled, CampaignSending, true},
		{CampaignSending, CampaignPaused, true},
		{CampaignSending, CampaignSent, true},
		{CampaignPaused, CampaignSending, true},
		{CampaignSent, CampaignSending, false},
		{CampaignPaused, CampaignDraft, false},
		{CampaignDraft, CampaignSent, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCampaignSendable(t *testing.T) {
	tests := []struct {
		status CampaignStatus
		want   bool
	}{
		{CampaignDraft, true},
		{CampaignScheduled, true},
		{CampaignPaused, true},
		{CampaignSending, false},
		{CampaignSent, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			c := &Campaign{Status: tt.status}
			if got := c.Sendable(); got != tt.want {
				t.Errorf("Sendable() with status %s = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}
