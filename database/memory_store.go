package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"charitylending/models"

	"github.com/shopspring/decimal"
)

// memoryData хранит все таблицы in-memory хранилища
type memoryData struct {
	nextID       map[string]uint
	users        map[uint]models.User
	plans        map[uint]models.Plan
	applications map[uint]models.Application
	events       []models.ApplicationEvent
	appPlans     map[uint]models.ApplicationPlan
	loans        map[uint]models.Loan
	payments     map[uint]models.LoanPayment
	transactions []models.LoanTransaction
	assignments  map[uint]models.AssignmentRecord
}

func newMemoryData() *memoryData {
	return &memoryData{
		nextID:       make(map[string]uint),
		users:        make(map[uint]models.User),
		plans:        make(map[uint]models.Plan),
		applications: make(map[uint]models.Application),
		appPlans:     make(map[uint]models.ApplicationPlan),
		loans:        make(map[uint]models.Loan),
		payments:     make(map[uint]models.LoanPayment),
		assignments:  make(map[uint]models.AssignmentRecord),
	}
}

func cloneMap[V any](src map[uint]V) map[uint]V {
	dst := make(map[uint]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		nextID:       make(map[string]uint, len(d.nextID)),
		users:        cloneMap(d.users),
		plans:        cloneMap(d.plans),
		applications: cloneMap(d.applications),
		events:       append([]models.ApplicationEvent(nil), d.events...),
		appPlans:     cloneMap(d.appPlans),
		loans:        cloneMap(d.loans),
		payments:     cloneMap(d.payments),
		transactions: append([]models.LoanTransaction(nil), d.transactions...),
		assignments:  cloneMap(d.assignments),
	}
	for k, v := range d.nextID {
		c.nextID[k] = v
	}
	return c
}

func (d *memoryData) id(table string) uint {
	d.nextID[table]++
	return d.nextID[table]
}

type memoryState struct {
	mu   sync.Mutex
	data *memoryData
}

// MemoryStore реализует Store в памяти процесса.
// Используется в тестах и при запуске с DB_DRIVER=memory.
// Транзакции сериализуются и работают над копией данных.
type MemoryStore struct {
	state *memoryState
	tx    *memoryData
}

// NewMemoryStore создает пустое in-memory хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{data: newMemoryData()}}
}

// use блокирует хранилище вне транзакции и возвращает рабочие данные
func (s *MemoryStore) use() (*memoryData, func()) {
	if s.tx != nil {
		return s.tx, func() {}
	}
	s.state.mu.Lock()
	return s.state.data, s.state.mu.Unlock
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	work := s.state.data.clone()
	if err := fn(&MemoryStore{state: s.state, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state.data = work
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRecordNotFound, fmt.Sprintf(format, args...))
}

// Пользователи

func (s *MemoryStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	d, done := s.use()
	defer done()
	user, ok := d.users[id]
	if !ok {
		return nil, notFound("user %d", id)
	}
	return &user, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	d, done := s.use()
	defer done()
	for _, u := range d.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: user email %s", ErrDuplicate, user.Email)
		}
	}
	if err := user.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now()
	user.ID = d.id("users")
	user.CreatedAt, user.UpdatedAt = now, now
	d.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) UpdateUserProfile(ctx context.Context, id uint, profile models.FinancialProfile) error {
	d, done := s.use()
	defer done()
	user, ok := d.users[id]
	if !ok {
		return notFound("user %d", id)
	}
	user.Profile = profile
	user.UpdatedAt = time.Now()
	d.users[id] = user
	return nil
}

// Программы

func (s *MemoryStore) GetPlan(ctx context.Context, code string) (*models.Plan, error) {
	d, done := s.use()
	defer done()
	for _, p := range d.plans {
		if p.Code == code {
			plan := p
			return &plan, nil
		}
	}
	return nil, notFound("plan %s", code)
}

func (s *MemoryStore) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	d, done := s.use()
	defer done()
	plans := make([]models.Plan, 0, len(d.plans))
	for _, p := range d.plans {
		if activeOnly && !p.Active {
			continue
		}
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Code < plans[j].Code })
	return plans, nil
}

func (s *MemoryStore) CreatePlan(ctx context.Context, plan *models.Plan) error {
	d, done := s.use()
	defer done()
	for _, p := range d.plans {
		if p.Code == plan.Code {
			return fmt.Errorf("%w: plan %s", ErrDuplicate, plan.Code)
		}
	}
	now := time.Now()
	plan.ID = d.id("plans")
	plan.CreatedAt, plan.UpdatedAt = now, now
	d.plans[plan.ID] = *plan
	return nil
}

func (s *MemoryStore) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	d, done := s.use()
	defer done()
	existing, ok := d.plans[plan.ID]
	if !ok {
		return notFound("plan %d", plan.ID)
	}
	updated := *plan
	updated.Code = existing.Code
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	d.plans[plan.ID] = updated
	*plan = updated
	return nil
}

// Заявки

func (s *MemoryStore) GetApplication(ctx context.Context, id uint, forUpdate bool) (*models.Application, error) {
	d, done := s.use()
	defer done()
	app, ok := d.applications[id]
	if !ok {
		return nil, notFound("application %d", id)
	}
	return &app, nil
}

func (s *MemoryStore) CreateApplication(ctx context.Context, app *models.Application) error {
	d, done := s.use()
	defer done()
	for _, a := range d.applications {
		if a.Number == app.Number {
			return fmt.Errorf("%w: application number %s", ErrDuplicate, app.Number)
		}
	}
	now := time.Now()
	app.ID = d.id("applications")
	app.CreatedAt, app.UpdatedAt = now, now
	d.applications[app.ID] = *app
	return nil
}

func (s *MemoryStore) UpdateApplicationAssignment(ctx context.Context, app *models.Application) error {
	d, done := s.use()
	defer done()
	existing, ok := d.applications[app.ID]
	if !ok {
		return notFound("application %d", app.ID)
	}
	existing.Departments = app.Departments
	existing.PrimaryStaffID = app.PrimaryStaffID
	existing.UpdatedAt = time.Now()
	d.applications[app.ID] = existing
	return nil
}

func (s *MemoryStore) TransitionApplication(ctx context.Context, app *models.Application, from models.ApplicationStatus) (bool, error) {
	d, done := s.use()
	defer done()
	existing, ok := d.applications[app.ID]
	if !ok || existing.Status != from {
		return false, nil
	}
	existing.Status = app.Status
	existing.RejectionReason = app.RejectionReason
	if at := app.MilestoneAt(app.Status); at != nil {
		existing.SetMilestone(app.Status, *at)
	}
	if app.Status == models.ApplicationStatusSubmitted {
		existing.RequestedAmount = app.RequestedAmount
		existing.Snapshot = app.Snapshot
		existing.Qualification = app.Qualification
	}
	existing.UpdatedAt = time.Now()
	d.applications[app.ID] = existing
	return true, nil
}

func (s *MemoryStore) CreateApplicationEvent(ctx context.Context, event *models.ApplicationEvent) error {
	d, done := s.use()
	defer done()
	event.ID = d.id("application_events")
	d.events = append(d.events, *event)
	return nil
}

func (s *MemoryStore) ListApplicationEvents(ctx context.Context, applicationID uint) ([]models.ApplicationEvent, error) {
	d, done := s.use()
	defer done()
	var events []models.ApplicationEvent
	for _, e := range d.events {
		if e.ApplicationID == applicationID {
			events = append(events, e)
		}
	}
	return events, nil
}

// Привязки программ

func (s *MemoryStore) GetActiveApplicationPlan(ctx context.Context, applicationID uint) (*models.ApplicationPlan, error) {
	d, done := s.use()
	defer done()
	for _, b := range d.appPlans {
		if b.ApplicationID == applicationID && b.Active {
			binding := b
			return &binding, nil
		}
	}
	return nil, notFound("active plan of application %d", applicationID)
}

func (s *MemoryStore) ListApplicationPlans(ctx context.Context, applicationID uint) ([]models.ApplicationPlan, error) {
	d, done := s.use()
	defer done()
	var bindings []models.ApplicationPlan
	for _, b := range d.appPlans {
		if b.ApplicationID == applicationID {
			bindings = append(bindings, b)
		}
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].ID < bindings[j].ID })
	return bindings, nil
}

func (s *MemoryStore) DeactivateApplicationPlans(ctx context.Context, applicationID uint, at time.Time) (int64, error) {
	d, done := s.use()
	defer done()
	var n int64
	for id, b := range d.appPlans {
		if b.ApplicationID == applicationID && b.Active {
			deactivated := at
			b.Active = false
			b.DeactivatedAt = &deactivated
			d.appPlans[id] = b
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateApplicationPlan(ctx context.Context, binding *models.ApplicationPlan) error {
	d, done := s.use()
	defer done()
	if binding.Active {
		for _, b := range d.appPlans {
			if b.ApplicationID == binding.ApplicationID && b.Active {
				return fmt.Errorf("%w: active plan of application %d", ErrDuplicate, binding.ApplicationID)
			}
		}
	}
	binding.ID = d.id("application_plans")
	d.appPlans[binding.ID] = *binding
	return nil
}

// Займы

func (s *MemoryStore) GetLoan(ctx context.Context, id uint, forUpdate bool) (*models.Loan, error) {
	d, done := s.use()
	defer done()
	loan, ok := d.loans[id]
	if !ok {
		return nil, notFound("loan %d", id)
	}
	return &loan, nil
}

func (s *MemoryStore) GetLoanByApplication(ctx context.Context, applicationID uint) (*models.Loan, error) {
	d, done := s.use()
	defer done()
	for _, l := range d.loans {
		if l.ApplicationID == applicationID {
			loan := l
			return &loan, nil
		}
	}
	return nil, notFound("loan of application %d", applicationID)
}

func (s *MemoryStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	d, done := s.use()
	defer done()
	for _, l := range d.loans {
		if l.ApplicationID == loan.ApplicationID || l.Number == loan.Number {
			return fmt.Errorf("%w: loan of application %d", ErrDuplicate, loan.ApplicationID)
		}
	}
	now := time.Now()
	loan.ID = d.id("loans")
	loan.CreatedAt, loan.UpdatedAt = now, now
	d.loans[loan.ID] = *loan
	return nil
}

func (s *MemoryStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	d, done := s.use()
	defer done()
	existing, ok := d.loans[loan.ID]
	if !ok {
		return notFound("loan %d", loan.ID)
	}
	updated := *loan
	updated.Number = existing.Number
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	d.loans[loan.ID] = updated
	return nil
}

func (s *MemoryStore) CreateLoanPayments(ctx context.Context, payments []models.LoanPayment) error {
	d, done := s.use()
	defer done()
	now := time.Now()
	for i := range payments {
		payments[i].ID = d.id("loan_payments")
		payments[i].CreatedAt, payments[i].UpdatedAt = now, now
		d.payments[payments[i].ID] = payments[i]
	}
	return nil
}

func (s *MemoryStore) GetLoanPayment(ctx context.Context, id uint) (*models.LoanPayment, error) {
	d, done := s.use()
	defer done()
	payment, ok := d.payments[id]
	if !ok {
		return nil, notFound("loan payment %d", id)
	}
	return &payment, nil
}

func (s *MemoryStore) ListLoanPayments(ctx context.Context, loanID uint) ([]models.LoanPayment, error) {
	d, done := s.use()
	defer done()
	var payments []models.LoanPayment
	for _, p := range d.payments {
		if p.LoanID == loanID {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].Sequence < payments[j].Sequence })
	return payments, nil
}

func statusIn(status models.PaymentStatus, set []models.PaymentStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListPaymentsDueBefore(ctx context.Context, statuses []models.PaymentStatus, before time.Time) ([]models.LoanPayment, error) {
	d, done := s.use()
	defer done()
	var payments []models.LoanPayment
	for _, p := range d.payments {
		if statusIn(p.Status, statuses) && p.DueDate.Before(before) {
			payments = append(payments, p)
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		if payments[i].DueDate.Equal(payments[j].DueDate) {
			return payments[i].ID < payments[j].ID
		}
		return payments[i].DueDate.Before(payments[j].DueDate)
	})
	return payments, nil
}

func (s *MemoryStore) SettleLoanPayment(ctx context.Context, payment *models.LoanPayment) (bool, error) {
	d, done := s.use()
	defer done()
	existing, ok := d.payments[payment.ID]
	if !ok || !existing.Status.IsPayable() {
		return false, nil
	}
	existing.Status = models.PaymentStatusPaid
	existing.AmountPaid = payment.AmountPaid
	existing.PaidDate = payment.PaidDate
	existing.Method = payment.Method
	existing.Reference = payment.Reference
	existing.Notes = payment.Notes
	existing.UpdatedAt = time.Now()
	d.payments[payment.ID] = existing
	return true, nil
}

func (s *MemoryStore) MarkPaymentStatus(ctx context.Context, id uint, from []models.PaymentStatus, to models.PaymentStatus, lateFee *decimal.Decimal) (bool, error) {
	d, done := s.use()
	defer done()
	existing, ok := d.payments[id]
	if !ok || !statusIn(existing.Status, from) {
		return false, nil
	}
	existing.Status = to
	if lateFee != nil {
		existing.LateFee = *lateFee
	}
	existing.UpdatedAt = time.Now()
	d.payments[id] = existing
	return true, nil
}

func (s *MemoryStore) AddPaymentPrincipal(ctx context.Context, id uint, principal decimal.Decimal) (bool, error) {
	d, done := s.use()
	defer done()
	existing, ok := d.payments[id]
	if !ok || !existing.Status.IsPayable() {
		return false, nil
	}
	existing.PrincipalAmount = existing.PrincipalAmount.Add(principal)
	existing.AmountDue = existing.AmountDue.Add(principal)
	existing.UpdatedAt = time.Now()
	d.payments[id] = existing
	return true, nil
}

func (s *MemoryStore) CancelOpenPayments(ctx context.Context, loanID uint) (int64, error) {
	d, done := s.use()
	defer done()
	var n int64
	for id, p := range d.payments {
		if p.LoanID == loanID && p.Status.IsPayable() {
			p.Status = models.PaymentStatusCancelled
			p.UpdatedAt = time.Now()
			d.payments[id] = p
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateLoanTransaction(ctx context.Context, txn *models.LoanTransaction) error {
	d, done := s.use()
	defer done()
	txn.ID = d.id("loan_transactions")
	txn.CreatedAt = time.Now()
	d.transactions = append(d.transactions, *txn)
	return nil
}

func (s *MemoryStore) ListLoanTransactions(ctx context.Context, loanID uint) ([]models.LoanTransaction, error) {
	d, done := s.use()
	defer done()
	var txns []models.LoanTransaction
	for _, t := range d.transactions {
		if t.LoanID == loanID {
			txns = append(txns, t)
		}
	}
	return txns, nil
}

// Назначения

func (s *MemoryStore) GetAssignment(ctx context.Context, id uint) (*models.AssignmentRecord, error) {
	d, done := s.use()
	defer done()
	record, ok := d.assignments[id]
	if !ok {
		return nil, notFound("assignment %d", id)
	}
	return &record, nil
}

func (s *MemoryStore) FindActiveAssignment(ctx context.Context, staffID, prospectID uint) (*models.AssignmentRecord, error) {
	d, done := s.use()
	defer done()
	for _, r := range d.assignments {
		if r.StaffID == staffID && r.ProspectID == prospectID && r.Active {
			record := r
			return &record, nil
		}
	}
	return nil, notFound("active assignment")
}

func (s *MemoryStore) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]models.AssignmentRecord, error) {
	d, done := s.use()
	defer done()
	var records []models.AssignmentRecord
	for _, r := range d.assignments {
		if filter.StaffID != nil && r.StaffID != *filter.StaffID {
			continue
		}
		if filter.ProspectID != nil && r.ProspectID != *filter.ProspectID {
			continue
		}
		if filter.ActiveOnly && !r.Active {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *MemoryStore) CreateAssignment(ctx context.Context, record *models.AssignmentRecord) error {
	d, done := s.use()
	defer done()
	for _, r := range d.assignments {
		if !r.Active || !record.Active {
			continue
		}
		if r.StaffID == record.StaffID && r.ProspectID == record.ProspectID {
			return fmt.Errorf("%w: active assignment of staff %d to prospect %d", ErrDuplicate, record.StaffID, record.ProspectID)
		}
		if record.Primary && r.Primary && r.ProspectID == record.ProspectID {
			return fmt.Errorf("%w: primary assignment of prospect %d", ErrDuplicate, record.ProspectID)
		}
	}
	record.ID = d.id("assignment_records")
	d.assignments[record.ID] = *record
	return nil
}

func (s *MemoryStore) UpdateAssignment(ctx context.Context, record *models.AssignmentRecord) error {
	d, done := s.use()
	defer done()
	if _, ok := d.assignments[record.ID]; !ok {
		return notFound("assignment %d", record.ID)
	}
	if record.Active && record.Primary {
		for _, r := range d.assignments {
			if r.ID != record.ID && r.Active && r.Primary && r.ProspectID == record.ProspectID {
				return fmt.Errorf("%w: primary assignment of prospect %d", ErrDuplicate, record.ProspectID)
			}
		}
	}
	d.assignments[record.ID] = *record
	return nil
}

func (s *MemoryStore) ClearPrimaryAssignments(ctx context.Context, prospectID, exceptID uint) error {
	d, done := s.use()
	defer done()
	for id, r := range d.assignments {
		if r.ProspectID == prospectID && r.Active && r.Primary && id != exceptID {
			r.Primary = false
			d.assignments[id] = r
		}
	}
	return nil
}
