package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/worker"
)

func TestConfirmAppointmentConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	appointment := createAppointment(t, ctx, st, fx, "")

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := st.ConfirmAppointment(ctx, store.ConfirmAppointmentInput{
				AppointmentID: appointment.AppointmentID,
				TechnicianID:  fx.technicianID,
				StaffID:       fx.staffID,
				OccurredAt:    time.Now().UTC(),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrInvalidState):
		default:
			t.Fatalf("unexpected confirm error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one confirm to win, got %d", successes)
	}

	var orders int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM work_orders WHERE appointment_id = $1`, appointment.AppointmentID).Scan(&orders); err != nil {
		t.Fatalf("count work orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("expected one work order, got %d", orders)
	}
}

func TestSlotCapacityUnderContention(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	slot, err := st.CreateSlot(ctx, store.CreateSlotInput{StartsAt: start, EndsAt: start.Add(time.Hour), Capacity: 2})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	const attempts = 6
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateAppointment(ctx, store.CreateAppointmentInput{
				AccountID:   fx.customerID,
				VehicleID:   fx.vehicleID,
				ServiceID:   fx.serviceID,
				SlotID:      slot.SlotID,
				ScheduledAt: start,
				CreatedAt:   time.Now().UTC(),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	booked := 0
	for err := range results {
		switch {
		case err == nil:
			booked++
		case errors.Is(err, store.ErrSlotFull):
		default:
			t.Fatalf("unexpected booking error: %v", err)
		}
	}
	if booked != 2 {
		t.Fatalf("expected 2 bookings, got %d", booked)
	}
	slot, err = st.GetSlot(ctx, slot.SlotID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if slot.Booked != 2 {
		t.Fatalf("expected booked=2, got %d", slot.Booked)
	}
}

func TestWorkOrderLockedAfterCompletion(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	order := completedWorkOrder(t, ctx, st, fx)
	if order.TotalAmount != 450000 {
		t.Fatalf("expected total 450000, got %d", order.TotalAmount)
	}

	_, err := st.AddPartUsage(ctx, store.AddPartUsageInput{
		WorkOrderID: order.WorkOrderID,
		ActorID:     fx.technicianID,
		PartID:      "late-part",
		Quantity:    1,
		UnitPrice:   1000,
		OccurredAt:  time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrWorkOrderLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}

	appointment, err := st.GetAppointment(ctx, order.AppointmentID)
	if err != nil {
		t.Fatalf("get appointment: %v", err)
	}
	if appointment.Status != models.AppointmentCompleted {
		t.Fatalf("expected completed appointment, got %s", appointment.Status)
	}

	invoice, err := st.IssueInvoice(ctx, store.IssueInvoiceInput{WorkOrderID: order.WorkOrderID, StaffID: fx.staffID, OccurredAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}
	if invoice.TotalAmount != order.TotalAmount {
		t.Fatalf("invoice total %d != work order total %d", invoice.TotalAmount, order.TotalAmount)
	}
	if _, err := st.IssueInvoice(ctx, store.IssueInvoiceInput{WorkOrderID: order.WorkOrderID, StaffID: fx.staffID, OccurredAt: time.Now().UTC()}); !errors.Is(err, store.ErrInvoiceExists) {
		t.Fatalf("expected second issue to fail, got %v", err)
	}

	events, err := st.ListEntityEvents(ctx, order.WorkOrderID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) < 5 {
		t.Fatalf("expected audit events for every step, got %d", len(events))
	}
	if err := store.VerifyChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func TestSettlementRace(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	order := completedWorkOrder(t, ctx, st, fx)
	invoice, err := st.IssueInvoice(ctx, store.IssueInvoiceInput{WorkOrderID: order.WorkOrderID, StaffID: fx.staffID, OccurredAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}

	var txns []models.PaymentTransaction
	for i := 0; i < 3; i++ {
		txn, err := st.CreatePayment(ctx, store.CreatePaymentInput{
			InvoiceID:  invoice.InvoiceID,
			ActorID:    fx.customerID,
			Amount:     invoice.TotalAmount,
			Method:     "card",
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create payment: %v", err)
		}
		txns = append(txns, txn)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(txns)+1)
	for _, txn := range txns {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, err := st.ReconcilePayment(ctx, store.ReconcileInput{TransactionID: id, Success: true, OccurredAt: time.Now().UTC()})
			results <- err
		}(txn.TransactionID)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := st.SettleInvoice(ctx, store.SettleInvoiceInput{
			InvoiceID:  invoice.InvoiceID,
			ActorID:    fx.staffID,
			Via:        models.SettledViaStaffManual,
			OccurredAt: time.Now().UTC(),
		})
		results <- err
	}()
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, store.ErrAlreadySettled), errors.Is(err, store.ErrInvalidState):
		default:
			t.Fatalf("unexpected settlement error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one settlement, got %d", winners)
	}

	var settlements int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoice_settlements WHERE invoice_id = $1`, invoice.InvoiceID).Scan(&settlements); err != nil {
		t.Fatalf("count settlements: %v", err)
	}
	if settlements != 1 {
		t.Fatalf("expected one settlement row, got %d", settlements)
	}

	paid, err := st.GetInvoice(ctx, invoice.InvoiceID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if paid.PaymentStatus != models.PaymentPaid || paid.SettledVia == nil {
		t.Fatalf("expected paid invoice with settlement path, got %+v", paid)
	}

	successes := 0
	for _, txn := range txns {
		current, err := st.GetPayment(ctx, txn.TransactionID)
		if err != nil {
			t.Fatalf("get payment: %v", err)
		}
		switch current.Status {
		case models.TransactionSuccess:
			successes++
		case models.TransactionPending:
			t.Fatalf("payment %s left pending after settlement", current.TransactionID)
		}
	}
	if *paid.SettledVia == models.SettledViaGateway && successes != 1 {
		t.Fatalf("gateway settlement must leave exactly one successful txn, got %d", successes)
	}
	if *paid.SettledVia == models.SettledViaStaffManual && successes != 0 {
		t.Fatalf("manual settlement must leave no successful txn, got %d", successes)
	}
}

func TestCancelRacesComplete(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	for i := 0; i < 10; i++ {
		appointment := createAppointment(t, ctx, st, fx, "")
		_, order, err := st.ConfirmAppointment(ctx, store.ConfirmAppointmentInput{
			AppointmentID: appointment.AppointmentID,
			TechnicianID:  fx.technicianID,
			StaffID:       fx.staffID,
			OccurredAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if _, err := st.TransitionWorkOrder(ctx, store.WorkOrderTransitionInput{
			WorkOrderID:  order.WorkOrderID,
			TechnicianID: fx.technicianID,
			From:         store.WorkOrderSources(store.ActionStart),
			To:           models.WorkOrderInProgress,
			OccurredAt:   time.Now().UTC(),
		}); err != nil {
			t.Fatalf("start: %v", err)
		}

		var wg sync.WaitGroup
		var cancelErr, completeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = st.CancelAppointment(ctx, store.CancelAppointmentInput{
				AppointmentID: appointment.AppointmentID,
				ActorID:       fx.staffID,
				OccurredAt:    time.Now().UTC(),
			})
		}()
		go func() {
			defer wg.Done()
			_, completeErr = st.TransitionWorkOrder(ctx, store.WorkOrderTransitionInput{
				WorkOrderID:  order.WorkOrderID,
				TechnicianID: fx.technicianID,
				From:         store.WorkOrderSources(store.ActionComplete),
				To:           models.WorkOrderCompleted,
				OccurredAt:   time.Now().UTC(),
			})
		}()
		wg.Wait()

		for _, err := range []error{cancelErr, completeErr} {
			if err != nil && !errors.Is(err, store.ErrInvalidState) {
				t.Fatalf("expected invalid state for the losing side, got %v", err)
			}
		}
		if (cancelErr == nil) == (completeErr == nil) {
			t.Fatalf("expected exactly one winner: cancel=%v complete=%v", cancelErr, completeErr)
		}

		stored, err := st.GetAppointment(ctx, appointment.AppointmentID)
		if err != nil {
			t.Fatalf("get appointment: %v", err)
		}
		final, err := st.GetWorkOrder(ctx, order.WorkOrderID)
		if err != nil {
			t.Fatalf("get work order: %v", err)
		}
		if cancelErr == nil {
			if stored.Status != models.AppointmentCancelled || final.Status != models.WorkOrderCancelled {
				t.Fatalf("cancel won but got appointment=%s work order=%s", stored.Status, final.Status)
			}
		} else if stored.Status != models.AppointmentCompleted || final.Status != models.WorkOrderCompleted {
			t.Fatalf("complete won but got appointment=%s work order=%s", stored.Status, final.Status)
		}
	}
}

func TestCancelReleasesSlotAndVoidsWorkOrder(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	slot, err := st.CreateSlot(ctx, store.CreateSlotInput{StartsAt: start, EndsAt: start.Add(time.Hour), Capacity: 1})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	appointment := createAppointment(t, ctx, st, fx, slot.SlotID)
	_, order, err := st.ConfirmAppointment(ctx, store.ConfirmAppointmentInput{
		AppointmentID: appointment.AppointmentID,
		TechnicianID:  fx.technicianID,
		StaffID:       fx.staffID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	cancelled, err := st.CancelAppointment(ctx, store.CancelAppointmentInput{
		AppointmentID: appointment.AppointmentID,
		ActorID:       fx.staffID,
		Reason:        "customer called",
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.AppointmentCancelled || cancelled.CancelReason != "customer called" {
		t.Fatalf("unexpected cancelled appointment: %+v", cancelled)
	}
	if cancelled.TechnicianID != nil {
		t.Fatalf("cancelled appointment kept technician %s", *cancelled.TechnicianID)
	}

	order, err = st.GetWorkOrder(ctx, order.WorkOrderID)
	if err != nil {
		t.Fatalf("get work order: %v", err)
	}
	if order.Status != models.WorkOrderCancelled {
		t.Fatalf("expected voided work order, got %s", order.Status)
	}
	slot, err = st.GetSlot(ctx, slot.SlotID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if slot.Booked != 0 {
		t.Fatalf("expected seat released, got booked=%d", slot.Booked)
	}
	if _, err := st.CancelAppointment(ctx, store.CancelAppointmentInput{AppointmentID: appointment.AppointmentID, OccurredAt: time.Now().UTC()}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
}

func TestConflictsAndNotFound(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	if _, err := st.CreateAccount(ctx, store.CreateAccountInput{Username: "CUSTOMER", PasswordHash: "x", Role: models.RoleCustomer}); !errors.Is(err, store.ErrUsernameTaken) {
		t.Fatalf("expected username conflict, got %v", err)
	}
	if _, err := st.CreateVehicle(ctx, store.CreateVehicleInput{AccountID: fx.customerID, VIN: "vin0000000000001", LicensePlate: "X", Model: "EV", Year: 2024}); !errors.Is(err, store.ErrDuplicateVIN) {
		t.Fatalf("expected vin conflict, got %v", err)
	}
	if _, err := st.GetWorkOrder(ctx, "not-a-uuid"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
	if _, err := st.GetInvoice(ctx, uuid.NewString()); !errors.Is(err, store.ErrInvoiceNotFound) {
		t.Fatalf("expected invoice not found, got %v", err)
	}

	if err := st.MarkSeen(ctx, fx.customerID, []string{"b", "a", "a"}); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	keys, err := st.ListSeenKeys(ctx, fx.customerID)
	if err != nil {
		t.Fatalf("list seen: %v", err)
	}
	if strings.Join(keys, ",") != "a,b" {
		t.Fatalf("unexpected seen keys %v", keys)
	}
}

func TestWorkerStoreOffsets(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedFixture(t, ctx, st)
	createAppointment(t, ctx, st, fx, "")
	createAppointment(t, ctx, st, fx, "")

	ws := NewWorkerStore(pool, "")
	offset, err := ws.GetLastOffset(ctx)
	if err != nil {
		t.Fatalf("get offset: %v", err)
	}
	if !offset.CreatedAt.IsZero() {
		t.Fatalf("expected empty offset, got %+v", offset)
	}

	events, err := ws.ListOutboxEvents(ctx, offset, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 outbox events, got %d", len(events))
	}

	first := worker.Offset{CreatedAt: events[0].CreatedAt, EventID: events[0].EventID}
	if err := ws.UpdateOffset(ctx, first); err != nil {
		t.Fatalf("update offset: %v", err)
	}
	offset, err = ws.GetLastOffset(ctx)
	if err != nil {
		t.Fatalf("get offset: %v", err)
	}
	if offset.EventID != first.EventID {
		t.Fatalf("offset not persisted: %+v", offset)
	}
	rest, err := ws.ListOutboxEvents(ctx, offset, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(rest) != 1 || rest[0].EventID != events[1].EventID {
		t.Fatalf("expected only the second event after the offset, got %+v", rest)
	}

	contact, err := ws.GetContact(ctx, fx.customerID)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if contact.Email != "customer@example.com" {
		t.Fatalf("unexpected contact %+v", contact)
	}
	if _, err := ws.GetContact(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found contact, got %v", err)
	}

	notification := worker.Notification{
		NotificationID: uuid.NewString(),
		EventID:        events[0].EventID,
		AccountID:      fx.customerID,
		Channel:        worker.ChannelEmail,
		Recipient:      contact.Email,
		Body:           "hello",
		Status:         "pending",
		CreatedAt:      time.Now().UTC(),
	}
	if err := ws.InsertNotification(ctx, notification); err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	if err := ws.MarkNotificationFailed(ctx, notification.NotificationID, 3, "smtp down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := ws.InsertDLQ(ctx, notification.NotificationID, "max attempts reached"); err != nil {
		t.Fatalf("insert dlq: %v", err)
	}
	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM notifications WHERE notification_id = $1`, notification.NotificationID).Scan(&status); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if status != "failed" {
		t.Fatalf("expected failed notification, got %s", status)
	}
}

type fixture struct {
	customerID   string
	staffID      string
	technicianID string
	vehicleID    string
	serviceID    string
}

func seedFixture(t *testing.T, ctx context.Context, st *Store) fixture {
	t.Helper()
	account := func(username string, role models.Role, email string) string {
		created, err := st.CreateAccount(ctx, store.CreateAccountInput{
			Username:     username,
			PasswordHash: "hash",
			FullName:     strings.ToUpper(username[:1]) + username[1:],
			Email:        email,
			Role:         role,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create account %s: %v", username, err)
		}
		return created.AccountID
	}
	fx := fixture{
		customerID:   account("customer", models.RoleCustomer, "customer@example.com"),
		staffID:      account("staff", models.RoleStaff, ""),
		technicianID: account("tech", models.RoleTechnician, ""),
	}
	vehicle, err := st.CreateVehicle(ctx, store.CreateVehicleInput{
		AccountID:    fx.customerID,
		VIN:          "VIN0000000000001",
		LicensePlate: "51A-12345",
		Model:        "VF8",
		Year:         2024,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	fx.vehicleID = vehicle.VehicleID
	service, err := st.CreateService(ctx, store.CreateServiceInput{Name: "Battery check", StandardCost: 150000})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	fx.serviceID = service.ServiceID
	return fx
}

func createAppointment(t *testing.T, ctx context.Context, st *Store, fx fixture, slotID string) models.Appointment {
	t.Helper()
	appointment, err := st.CreateAppointment(ctx, store.CreateAppointmentInput{
		AccountID:   fx.customerID,
		VehicleID:   fx.vehicleID,
		ServiceID:   fx.serviceID,
		SlotID:      slotID,
		ScheduledAt: time.Now().UTC().Add(24 * time.Hour),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appointment
}

// completedWorkOrder walks an appointment to a completed order with one
// service line of 150000 and a part of 2 x 150000.
func completedWorkOrder(t *testing.T, ctx context.Context, st *Store, fx fixture) models.WorkOrder {
	t.Helper()
	appointment := createAppointment(t, ctx, st, fx, "")
	_, order, err := st.ConfirmAppointment(ctx, store.ConfirmAppointmentInput{
		AppointmentID: appointment.AppointmentID,
		TechnicianID:  fx.technicianID,
		StaffID:       fx.staffID,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	transition := func(action string) {
		to, _ := store.WorkOrderTarget(action)
		if _, err := st.TransitionWorkOrder(ctx, store.WorkOrderTransitionInput{
			WorkOrderID:  order.WorkOrderID,
			TechnicianID: fx.technicianID,
			From:         store.WorkOrderSources(action),
			To:           to,
			OccurredAt:   time.Now().UTC(),
		}); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	transition(store.ActionStart)
	if _, err := st.AddServiceLine(ctx, store.AddServiceLineInput{
		WorkOrderID: order.WorkOrderID,
		ActorID:     fx.technicianID,
		ServiceID:   fx.serviceID,
		Quantity:    1,
		UnitPrice:   150000,
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("add service line: %v", err)
	}
	part, err := st.AddPartUsage(ctx, store.AddPartUsageInput{
		WorkOrderID:     order.WorkOrderID,
		ActorID:         fx.technicianID,
		PartID:          "coolant",
		Quantity:        2,
		UnitPrice:       150000,
		SuggestedByTech: true,
		OccurredAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add part: %v", err)
	}
	if _, err := st.ApprovePartUsage(ctx, store.ApprovePartInput{
		WorkOrderID: order.WorkOrderID,
		LineID:      part.Parts[0].LineID,
		StaffID:     fx.staffID,
		OccurredAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("approve part: %v", err)
	}
	transition(store.ActionComplete)

	order, err = st.GetWorkOrder(ctx, order.WorkOrderID)
	if err != nil {
		t.Fatalf("get work order: %v", err)
	}
	return order
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
