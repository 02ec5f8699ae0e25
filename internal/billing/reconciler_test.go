package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpay/internal/external"
	"memberpay/internal/metrics"
	"memberpay/internal/types"
)

var reconcileNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type reconcileFixture struct {
	gw            *external.StubGateway
	members       *fakeMembers
	memberships   *fakeMemberships
	relationships *fakeRelationships
	invoices      *fakeInvoices
	notifier      *recordingNotifier
	metrics       *metrics.MockRecorder
	cfg           ReconcilerConfig
}

func newReconcileFixture(t *testing.T, invoiceTotal float64) *reconcileFixture {
	t.Helper()
	rels := &fakeRelationships{byID: map[int64]*types.Relationship{
		11: {ID: 11, MemberID: 1, MembershipID: 5, Status: types.StatusActive, GatewayID: types.GatewayID, CurrentInvoiceNumber: 1},
		12: {ID: 12, MemberID: 1, MembershipID: 5, Status: types.StatusActive, System: true, CurrentInvoiceNumber: 1},
	}}
	f := &reconcileFixture{
		gw: external.NewStubGateway(testLogger()),
		members: &fakeMembers{byID: map[int64]*types.Member{
			1: {ID: 1, Email: "ada@example.com"},
		}},
		memberships:   &fakeMemberships{byID: map[int64]*types.Membership{5: recurring(5, "9.99", 1, types.PeriodMonths)}},
		relationships: rels,
		invoices:      newFakeInvoices(rels, invoiceTotal),
		notifier:      &recordingNotifier{},
		metrics:       &metrics.MockRecorder{},
	}
	f.gw.PutSubscription(external.Subscription{ID: "sub_11", Metadata: map[string]string{types.CorrelationMetadataKey: "11"}})
	f.gw.PutSubscription(external.Subscription{ID: "sub_12", Metadata: map[string]string{types.CorrelationMetadataKey: "12"}})
	f.gw.PutSubscription(external.Subscription{ID: "sub_orphan", Metadata: map[string]string{}})

	f.cfg = ReconcilerConfig{
		Gateway:              f.gw,
		Members:              f.members,
		Memberships:          f.memberships,
		Relationships:        f.relationships,
		Invoices:             f.invoices,
		Notifier:             f.notifier,
		Clock:                types.FixedClock{At: reconcileNow},
		Metrics:              f.metrics,
		Logger:               testLogger(),
		RenewalNotifications: true,
		TrialAddon:           true,
	}
	return f
}

func (f *reconcileFixture) reconciler() *Reconciler {
	return NewReconciler(f.cfg)
}

func invoiceEvent(t *testing.T, eventType, invoiceID, subscriptionID string) *external.Event {
	return makeEvent(t, eventType, map[string]any{
		"id":           invoiceID,
		"subscription": subscriptionID,
		"total":        999,
		"currency":     "usd",
	})
}

func TestPaymentSucceeded_PaysCurrentInvoice(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	r := f.reconciler()

	err := r.Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_11"))
	require.NoError(t, err)

	inv := f.invoices.get(11, 1)
	require.NotNil(t, inv)
	assert.True(t, inv.IsPaid())
	assert.Equal(t, "in_1", inv.ExternalID)
	assert.Equal(t, types.GatewayID, inv.GatewayID)
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, reconcileNow, *inv.PaidAt)
	assert.Len(t, inv.Notes, 1)

	require.Len(t, f.notifier.published, 1)
	n := f.notifier.published[0]
	assert.Equal(t, int64(11), n.RelationshipID)
	assert.Equal(t, "in_1", n.ExternalRef)
	assert.True(t, n.TestMode)
	assert.Equal(t, 1, f.metrics.Renewals)
}

func TestPaymentSucceeded_DuplicateDeliveryAdvancesToNextInvoice(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	r := f.reconciler()
	ctx := context.Background()
	ev := invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_11")

	require.NoError(t, r.Dispatch(ctx, ev))
	first := *f.invoices.get(11, 1)

	require.NoError(t, r.Dispatch(ctx, ev))

	again := f.invoices.get(11, 1)
	assert.Equal(t, first.Notes, again.Notes, "paid invoice must not be re-marked")
	assert.Equal(t, first.PaidAt, again.PaidAt)

	next := f.invoices.get(11, 2)
	require.NotNil(t, next, "second delivery should resolve the next invoice")
	assert.True(t, next.IsPaid())
	assert.Equal(t, int64(2), f.relationships.byID[11].CurrentInvoiceNumber)
}

func TestPaymentSucceeded_ThirdDeliveryIgnored(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	r := f.reconciler()
	ctx := context.Background()
	ev := invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_11")

	for range 3 {
		require.NoError(t, r.Dispatch(ctx, ev))
	}

	assert.True(t, f.invoices.get(11, 1).IsPaid())
	assert.True(t, f.invoices.get(11, 2).IsPaid())
	assert.Nil(t, f.invoices.get(11, 3), "repeat must not open another period")
	assert.Equal(t, int64(2), f.relationships.byID[11].CurrentInvoiceNumber)
	assert.Len(t, f.notifier.published, 2)
	assert.Equal(t, 2, f.metrics.Renewals)
}

func TestPaymentSucceeded_RenewalRedeliveryIgnored(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	r := f.reconciler()
	ctx := context.Background()

	require.NoError(t, r.Dispatch(ctx, invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_11")))
	renewal := invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_2", "sub_11")
	require.NoError(t, r.Dispatch(ctx, renewal))
	require.NoError(t, r.Dispatch(ctx, renewal))

	assert.Equal(t, "in_2", f.invoices.get(11, 2).ExternalID)
	assert.Nil(t, f.invoices.get(11, 3))
	assert.Len(t, f.notifier.published, 2)
}

func TestPaymentSucceeded_FreeThirdDeliveryIgnored(t *testing.T) {
	f := newReconcileFixture(t, 0)
	r := f.reconciler()
	ctx := context.Background()
	ev := invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_free", "sub_11")

	for range 3 {
		require.NoError(t, r.Dispatch(ctx, ev))
	}

	assert.True(t, f.invoices.get(11, 2).IsPaid())
	assert.Nil(t, f.invoices.get(11, 3))
}

func TestSettledBy(t *testing.T) {
	paid := &types.Invoice{ExternalID: "in_1"}
	free := &types.Invoice{}
	free.AddNote("Free invoice processed via Stripe (invoice %s)", "in_9")

	assert.True(t, settledBy(paid, "in_1"))
	assert.False(t, settledBy(paid, "in_2"))
	assert.True(t, settledBy(free, "in_9"))
	assert.False(t, settledBy(free, "in_99"))
	assert.False(t, settledBy(&types.Invoice{}, ""))
}

func TestPaymentSucceeded_NextAlreadyPaidIsNoop(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	rel := f.relationships.byID[11]
	paid := f.invoices.ensure(rel, 1)
	paid.PayIt(types.GatewayID, "in_0", reconcileNow)
	require.NoError(t, f.invoices.Save(context.Background(), paid))
	next := f.invoices.ensure(rel, 2)
	next.PayIt(types.GatewayID, "in_1", reconcileNow)
	require.NoError(t, f.invoices.Save(context.Background(), next))
	saves := f.invoices.saves

	err := f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_11"))

	require.NoError(t, err)
	assert.Equal(t, saves, f.invoices.saves)
	assert.Empty(t, f.notifier.published)
}

func TestPaymentSucceeded_ZeroTotalProcessedAsFree(t *testing.T) {
	f := newReconcileFixture(t, 0)

	err := f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_free", "sub_11"))
	require.NoError(t, err)

	inv := f.invoices.get(11, 1)
	assert.True(t, inv.IsPaid())
	assert.Empty(t, inv.ExternalID)
	assert.Empty(t, f.notifier.published, "free invoices send no renewal notice")
}

func TestPaymentSucceeded_NotificationsDisabled(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	f.cfg.RenewalNotifications = false

	require.NoError(t, f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_11")))

	assert.True(t, f.invoices.get(11, 1).IsPaid())
	assert.Empty(t, f.notifier.published)
	assert.Equal(t, 0, f.metrics.Renewals)
}

func TestPaymentSucceeded_NotifierErrorAfterPersist(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	f.notifier.err = types.NewAppError(types.ErrCodeUpstreamQueue, "queue down", nil)

	err := f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_11"))

	assert.Equal(t, types.ErrCodeUpstreamQueue, types.CodeOf(err))
	assert.True(t, f.invoices.get(11, 1).IsPaid(), "payment is persisted before notifying")
}

func TestPaymentSucceeded_ParentSubscriptionDetails(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, types.EventInvoicePaymentSucceeded, map[string]any{
		"id": "in_2",
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": "sub_11"},
		},
	})

	require.NoError(t, f.reconciler().Dispatch(context.Background(), ev))
	assert.True(t, f.invoices.get(11, 1).IsPaid())
}

func TestPaymentSucceeded_SystemRelationshipSkipped(t *testing.T) {
	f := newReconcileFixture(t, 9.99)

	require.NoError(t, f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", "sub_12")))

	assert.Equal(t, 0, f.invoices.saves)
	assert.Nil(t, f.invoices.get(12, 1))
}

func TestPaymentSucceeded_MissingSubscription(t *testing.T) {
	f := newReconcileFixture(t, 9.99)

	err := f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentSucceeded, "in_1", ""))

	assert.Equal(t, types.ErrCodeReconcileCorrelationMissing, types.CodeOf(err))
	assert.Equal(t, 0, f.invoices.saves)
}

func TestSubscriptionDeleted_MissingCorrelationIsAcknowledged(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, types.EventSubscriptionDeleted, map[string]any{"id": "sub_orphan", "metadata": map[string]string{}})

	var err error
	assert.NotPanics(t, func() {
		err = f.reconciler().Dispatch(context.Background(), ev)
	})

	assert.Equal(t, types.ErrCodeReconcileCorrelationMissing, types.CodeOf(err))
	assert.Equal(t, 0, f.relationships.saves)
	assert.Equal(t, types.StatusActive, f.relationships.byID[11].Status)
}

func TestSubscriptionDeleted_UsesRetrievedSubscription(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, types.EventSubscriptionDeleted, map[string]any{
		"id":       "sub_11",
		"metadata": map[string]string{types.CorrelationMetadataKey: "12"},
	})

	require.NoError(t, f.reconciler().Dispatch(context.Background(), ev))

	assert.Equal(t, types.StatusCanceled, f.relationships.byID[11].Status)
	assert.Equal(t, types.StatusActive, f.relationships.byID[12].Status)
}

func TestSubscriptionDeleted_UnknownSubscription(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, types.EventSubscriptionDeleted, map[string]any{"id": "sub_gone"})

	err := f.reconciler().Dispatch(context.Background(), ev)

	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, 0, f.relationships.saves)
}

func TestSubscriptionDeleted_CancelsOnce(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	r := f.reconciler()
	ev := makeEvent(t, types.EventSubscriptionDeleted, map[string]any{
		"id":       "sub_11",
		"metadata": map[string]string{types.CorrelationMetadataKey: "11"},
	})

	require.NoError(t, r.Dispatch(context.Background(), ev))
	require.NoError(t, r.Dispatch(context.Background(), ev))

	rel := f.relationships.byID[11]
	assert.Equal(t, types.StatusCanceled, rel.Status)
	require.NotNil(t, rel.CanceledAt)
	assert.Equal(t, reconcileNow, *rel.CanceledAt)
	assert.Equal(t, 1, f.relationships.saves)
}

func TestPaymentFailed_Cancels(t *testing.T) {
	f := newReconcileFixture(t, 9.99)

	require.NoError(t, f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoicePaymentFailed, "in_9", "sub_11")))

	assert.Equal(t, types.StatusCanceled, f.relationships.byID[11].Status)
}

func TestInvoiceCreated_TrialExpiredToPending(t *testing.T) {
	tests := []struct {
		name       string
		status     types.RelationshipStatus
		hasTrial   bool
		trialAddon bool
		want       types.RelationshipStatus
	}{
		{"expired trial reopens", types.StatusTrialExpired, true, true, types.StatusPending},
		{"addon disabled", types.StatusTrialExpired, true, false, types.StatusTrialExpired},
		{"membership without trial", types.StatusTrialExpired, false, true, types.StatusTrialExpired},
		{"active untouched", types.StatusActive, true, true, types.StatusActive},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newReconcileFixture(t, 9.99)
			f.relationships.byID[11].Status = tc.status
			m := f.memberships.byID[5]
			m.TrialEnabled = tc.hasTrial
			m.TrialUnit = 7
			m.TrialType = types.PeriodDays
			f.cfg.TrialAddon = tc.trialAddon

			err := f.reconciler().Dispatch(context.Background(), invoiceEvent(t, types.EventInvoiceCreated, "in_3", "sub_11"))

			require.NoError(t, err)
			assert.Equal(t, tc.want, f.relationships.byID[11].Status)
		})
	}
}

func TestCustomerCreated_LinksMemberByEmail(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, types.EventCustomerCreated, map[string]any{"id": "cus_42", "email": "ADA@example.com"})

	require.NoError(t, f.reconciler().Dispatch(context.Background(), ev))

	assert.Equal(t, "cus_42", f.members.byID[1].GatewayProfile(types.GatewayID, "customer_id"))
	assert.Equal(t, 1, f.members.saves)
}

func TestCustomerCreated_UnknownEmailIsNoop(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, types.EventCustomerCreated, map[string]any{"id": "cus_43", "email": "nobody@example.com"})

	require.NoError(t, f.reconciler().Dispatch(context.Background(), ev))
	assert.Equal(t, 0, f.members.saves)
}

func TestCheckoutCompleted_NoMutation(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, types.EventCheckoutSessionCompleted, map[string]any{"id": "cs_1", "subscription": "sub_11"})

	require.NoError(t, f.reconciler().Dispatch(context.Background(), ev))
	assert.Equal(t, 0, f.relationships.saves+f.invoices.saves+f.members.saves)
}

func TestDispatch_UnsupportedEvent(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := makeEvent(t, "charge.refunded", map[string]any{"id": "ch_1"})

	err := f.reconciler().Dispatch(context.Background(), ev)

	assert.Equal(t, types.ErrCodeReconcileUnsupportedEvent, types.CodeOf(err))
}

func TestDispatch_MalformedObject(t *testing.T) {
	f := newReconcileFixture(t, 9.99)
	ev := &external.Event{ID: "evt_bad", Type: types.EventInvoicePaymentSucceeded, Object: []byte(`{"id":`)}

	err := f.reconciler().Dispatch(context.Background(), ev)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationWebhookPayload, appErr.Code)
	assert.Equal(t, 0, f.invoices.saves)
}
