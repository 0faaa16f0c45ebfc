package controllers

import (
	"net/http"

	"charitylending/middleware"
	"charitylending/services"

	"github.com/gorilla/mux"
)

// Services набор сервисов движка, которые обслуживает публичный API
type Services struct {
	Users        *services.UserService
	Catalog      *services.PlanCatalog
	Qualifier    *services.Qualifier
	Applications *services.ApplicationService
	Assigner     *services.PlanAssigner
	Ledger       *services.LoanLedger
	Directory    *services.AssignmentDirectory
}

// NewRouter собирает публичный API. Все маршруты требуют JWT.
func NewRouter(jwtKey []byte, s Services) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, services.NewNotFoundError("route %s %s", r.Method, r.URL.Path))
	})

	profileController := NewProfileController(s.Users)
	planController := NewPlanController(s.Catalog, s.Qualifier)
	applicationController := NewApplicationController(s.Applications, s.Assigner, s.Ledger)
	loanController := NewLoanController(s.Ledger)
	assignmentController := NewAssignmentController(s.Directory)

	// Защищенные маршруты
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(middleware.LoggingMiddleware)
	protected.Use(middleware.AuthMiddleware(jwtKey))

	// Квалификация и профили
	protected.HandleFunc("/qualification/evaluate", profileController.Evaluate).Methods("POST")
	protected.HandleFunc("/profile", profileController.GetProfile).Methods("GET")
	protected.HandleFunc("/profile", profileController.UpdateProfile).Methods("PUT")
	protected.HandleFunc("/users", profileController.CreateUser).Methods("POST")
	protected.HandleFunc("/users/{id}", profileController.GetUser).Methods("GET")
	protected.HandleFunc("/users/{id}/qualification", profileController.Qualify).Methods("GET")

	// Каталог программ
	protected.HandleFunc("/plans", planController.ListPlans).Methods("GET")
	protected.HandleFunc("/plans", planController.CreatePlan).Methods("POST")
	protected.HandleFunc("/plans/{code}", planController.GetPlan).Methods("GET")
	protected.HandleFunc("/plans/{code}", planController.UpdatePlan).Methods("PUT")
	protected.HandleFunc("/plans/{code}/active", planController.SetPlanActive).Methods("PUT")
	protected.HandleFunc("/plans/{code}/range", planController.GetRange).Methods("GET")

	// Заявки
	protected.HandleFunc("/applications", applicationController.CreateApplication).Methods("POST")
	protected.HandleFunc("/applications/{id}", applicationController.GetApplication).Methods("GET")
	protected.HandleFunc("/applications/{id}/transitions", applicationController.AllowedTransitions).Methods("GET")
	protected.HandleFunc("/applications/{id}/transitions", applicationController.Transition).Methods("POST")
	protected.HandleFunc("/applications/{id}/events", applicationController.Events).Methods("GET")
	protected.HandleFunc("/applications/{id}/departments", applicationController.AssignDepartments).Methods("PUT")
	protected.HandleFunc("/applications/{id}/primary-staff", applicationController.SetPrimaryStaff).Methods("PUT")
	protected.HandleFunc("/applications/{id}/plan", applicationController.ActivePlan).Methods("GET")
	protected.HandleFunc("/applications/{id}/plan", applicationController.AssignPlan).Methods("PUT")
	protected.HandleFunc("/applications/{id}/plan", applicationController.UnassignPlan).Methods("DELETE")
	protected.HandleFunc("/applications/{id}/plan/history", applicationController.PlanHistory).Methods("GET")
	protected.HandleFunc("/applications/{id}/loan", applicationController.CreateLoan).Methods("POST")

	// Займы
	protected.HandleFunc("/loans/preview", loanController.PreviewSchedule).Methods("POST")
	protected.HandleFunc("/loans/{id}", loanController.GetLoan).Methods("GET")
	protected.HandleFunc("/loans/{id}/payments", loanController.GetPayments).Methods("GET")
	protected.HandleFunc("/loans/{id}/payments/{paymentId}", loanController.RecordPayment).Methods("POST")
	protected.HandleFunc("/loans/{id}/transactions", loanController.GetTransactions).Methods("GET")
	protected.HandleFunc("/loans/{id}/cancel", loanController.CancelLoan).Methods("POST")
	protected.HandleFunc("/loans/{id}/close", loanController.CloseLoan).Methods("POST")

	// Закрепления сотрудников
	protected.HandleFunc("/assignments", assignmentController.Assign).Methods("POST")
	protected.HandleFunc("/assignments/{id}", assignmentController.Unassign).Methods("DELETE")
	protected.HandleFunc("/assignments/{id}/primary", assignmentController.SetPrimary).Methods("POST")
	protected.HandleFunc("/prospects/{id}/assignments", assignmentController.ForProspect).Methods("GET")
	protected.HandleFunc("/staff/{id}/assignments", assignmentController.ForStaff).Methods("GET")

	return router
}
