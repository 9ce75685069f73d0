package sweep

import (
	"testing"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	tr := DefaultTranslations()
	require.Equal(t, models.TrackStatusShipped, tr.Translate("restv1", "WAIT_BUYER_ACCEPT_GOODS", models.TrackStatusOrdered))
	require.Equal(t, models.TrackStatusShipped, tr.Translate("eventfeed", "SHIPPED", models.TrackStatusOrdered))
	require.Equal(t, models.TrackStatusCancelled, tr.Translate("fake", " cancelled ", models.TrackStatusOrdered))

	// unknown codes and unknown suppliers keep the current state
	require.Equal(t, models.TrackStatusOrdered, tr.Translate("restv1", "SOMETHING_NEW", models.TrackStatusOrdered))
	require.Equal(t, models.TrackStatusPending, tr.Translate("nobody", "shipped", models.TrackStatusPending))
}

func TestTranslations_Merge(t *testing.T) {
	tr := DefaultTranslations()
	require.NoError(t, tr.Merge(map[string]map[string]string{
		"restv1":    {"FINISH": "cancelled"},
		"acme":      {"Sent": "SHIPPED"},
		"eventfeed": {},
	}))
	require.Equal(t, models.TrackStatusCancelled, tr.Translate("restv1", "finish", models.TrackStatusOrdered))
	require.Equal(t, models.TrackStatusShipped, tr.Translate("acme", "SENT", models.TrackStatusOrdered))
	require.Equal(t, models.TrackStatusOrdered, tr.Translate("eventfeed", "accepted", models.TrackStatusPending))

	err := tr.Merge(map[string]map[string]string{"acme": {"lost": "GONE"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "GONE")
}

func TestTranslations_Alias(t *testing.T) {
	tr := DefaultTranslations()
	tr.Alias("aliexpress", "restv1")
	tr.Alias("nobody", "soap")
	require.Equal(t, models.TrackStatusShipped, tr.Translate("aliexpress", "FINISH", models.TrackStatusOrdered))
	require.NotContains(t, tr, "nobody")

	// the alias is a copy
	require.NoError(t, tr.Merge(map[string]map[string]string{"aliexpress": {"finish": "DISPUTED"}}))
	require.Equal(t, models.TrackStatusShipped, tr.Translate("restv1", "finish", models.TrackStatusOrdered))
}

func TestMergeStatuses(t *testing.T) {
	const (
		ord  = models.TrackStatusOrdered
		pend = models.TrackStatusPending
		ship = models.TrackStatusShipped
		part = models.TrackStatusPartiallyShipped
		canc = models.TrackStatusCancelled
		disp = models.TrackStatusDisputed
	)
	cases := []struct {
		name string
		in   []models.TrackStatus
		want models.TrackStatus
	}{
		{"none", nil, ord},
		{"single", []models.TrackStatus{ship}, ship},
		{"all shipped", []models.TrackStatus{ship, ship}, ship},
		{"some shipped", []models.TrackStatus{ship, ord}, part},
		{"partial", []models.TrackStatus{part, ord}, part},
		{"shipped and cancelled", []models.TrackStatus{ship, canc}, ship},
		{"all cancelled", []models.TrackStatus{canc, canc}, canc},
		{"dispute wins", []models.TrackStatus{ship, disp}, disp},
		{"least advanced", []models.TrackStatus{ord, pend}, pend},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, mergeStatuses(ord, c.in))
		})
	}
}
