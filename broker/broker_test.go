package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventWireRoundTrip(t *testing.T) {
	published := Event{
		Type:           EventSubscriptionActivated,
		OrganizationID: "org_1",
		SubscriptionID: "sub_1",
		PlanSlug:       "small_team_monthly",
		At:             time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(&published)
	require.NoError(t, err)

	received, err := decodeEvent(body)
	require.NoError(t, err)
	require.Equal(t, published.Type, received.Type)
	require.Equal(t, published.OrganizationID, received.OrganizationID)
	require.Equal(t, published.SubscriptionID, received.SubscriptionID)
	require.Equal(t, published.PlanSlug, received.PlanSlug)
	require.True(t, published.At.Equal(received.At))
}

func TestDecodeEventRejectsMalformed(t *testing.T) {
	_, err := decodeEvent([]byte("not json"))
	require.Error(t, err)
}
