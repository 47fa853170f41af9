package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NikWasHere/magang-rspb-sub000/internal/classify"
	"github.com/NikWasHere/magang-rspb-sub000/internal/models"
	"github.com/NikWasHere/magang-rspb-sub000/internal/slip"
	"github.com/NikWasHere/magang-rspb-sub000/internal/store"
)

const visitDateLayout = "2006-01-02"

type Handler struct {
	store      store.ReservationStore
	classifier classify.Classifier
}

type createReservationRequest struct {
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	Contact       string `json:"contact"`
	NationalID    string `json:"national_id"`
	Gender        string `json:"gender"`
	BirthPlace    string `json:"birth_place"`
	BirthDate     string `json:"birth_date"`
	DoctorID      string `json:"doctor_id"`
	Department    string `json:"department"`
	VisitDate     string `json:"visit_date"`
	Symptoms      string `json:"symptoms"`
	PaymentMethod string `json:"payment_method"`
	InsurerName   string `json:"insurer_name"`
	InsurerNumber string `json:"insurer_number"`
}

type verifyRequest struct {
	Classification string `json:"classification"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	Classifier classify.Classifier
}

func NewHandler(reservations store.ReservationStore, options Options) *Handler {
	classifier := options.Classifier
	if classifier == nil {
		classifier = classify.NewKeywordClassifier()
	}
	return &Handler{store: reservations, classifier: classifier}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/reservations", h.handleReservations)
	mux.HandleFunc("/api/reservations/lookup", h.handleLookup)
	mux.HandleFunc("/api/reservations/", h.handleReservationSubroutes)
	mux.HandleFunc("/api/patients/", h.handlePatientReservations)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/next", h.handleQueueNext)
	mux.HandleFunc("/api/queue/wait", h.handleQueueWait)
	mux.HandleFunc("/api/admin/actions/expire", h.handleExpire)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateReservation(w, r)
	case http.MethodGet:
		h.handleListByStatus(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.Contact = strings.TrimSpace(req.Contact)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.Department = strings.TrimSpace(req.Department)
	req.VisitDate = strings.TrimSpace(req.VisitDate)
	req.Symptoms = strings.TrimSpace(req.Symptoms)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)

	if req.PatientID == "" || req.PatientName == "" || req.DoctorID == "" || req.Department == "" || req.VisitDate == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id, patient_name, doctor_id, department, and visit_date are required")
		return
	}

	visitDate, err := time.Parse(visitDateLayout, req.VisitDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit_date must be YYYY-MM-DD")
		return
	}

	var birthDate time.Time
	if req.BirthDate != "" {
		birthDate, err = time.Parse(visitDateLayout, req.BirthDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "birth_date must be YYYY-MM-DD")
			return
		}
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentCash
	}

	input := store.CreateReservationInput{
		Patient: models.PatientSnapshot{
			PatientID:  req.PatientID,
			Name:       req.PatientName,
			Contact:    req.Contact,
			NationalID: strings.TrimSpace(req.NationalID),
			Gender:     strings.TrimSpace(req.Gender),
			BirthPlace: strings.TrimSpace(req.BirthPlace),
			BirthDate:  birthDate,
		},
		DoctorID:   req.DoctorID,
		Department: req.Department,
		VisitDate:  visitDate,
		Symptoms:   req.Symptoms,
		Payment: models.PaymentInfo{
			Method:        req.PaymentMethod,
			InsurerName:   strings.TrimSpace(req.InsurerName),
			InsurerNumber: strings.TrimSpace(req.InsurerNumber),
		},
		CreatedAt: time.Now().UTC(),
	}

	if req.Symptoms != "" {
		if rec, ok := h.classifier.Recommend(r.Context(), req.Symptoms); ok {
			input.AIRecommendedPoli = rec.Department
			input.AIConfidence = rec.Confidence
		}
	}

	reservation, err := h.store.CreateReservation(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleListByStatus(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case models.StatusPending, models.StatusConfirmed, models.StatusCompleted, models.StatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be pending, confirmed, completed, or cancelled")
		return
	}

	reservations, err := h.store.ListByStatus(r.Context(), status)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if reservations == nil {
		reservations = []models.Reservation{}
	}
	writeJSON(w, http.StatusOK, reservations)
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	reservation, found, err := h.store.FindByBookingCode(r.Context(), code)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "reservation_not_found", "no live reservation matches this code")
		return
	}

	writeJSON(w, http.StatusOK, reservation)
}

// handleReservationSubroutes serves /api/reservations/{id},
// /api/reservations/{id}/slip, and /api/reservations/{id}/actions/{verb}.
func (h *Handler) handleReservationSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/reservations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleGetReservation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "slip":
		h.handleSlip(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleReservationAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request, reservationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reservation, err := h.store.GetReservation(r.Context(), reservationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleSlip(w http.ResponseWriter, r *http.Request, reservationID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reservation, err := h.store.GetReservation(r.Context(), reservationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	image, err := slip.Render(reservation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not render slip")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image)
}

func (h *Handler) handleReservationAction(w http.ResponseWriter, r *http.Request, reservationID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "verify":
		h.handleVerify(w, r, reservationID)
	case "complete":
		h.handleComplete(w, r, reservationID)
	case "cancel":
		h.handleCancel(w, r, reservationID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request, reservationID string) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req verifyRequest
	if r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}

	reservation, err := h.store.VerifyReservation(r.Context(), store.VerifyInput{
		ReservationID:  reservationID,
		StaffID:        session.StaffID,
		Classification: strings.TrimSpace(req.Classification),
		VerifiedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, reservationID string) {
	reservation, err := h.store.CompleteReservation(r.Context(), reservationID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, reservationID string) {
	reservation, err := h.store.CancelReservation(r.Context(), reservationID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handlePatientReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/patients/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "reservations" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	reservations, err := h.store.ListByPatient(r.Context(), parts[0])
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if reservations == nil {
		reservations = []models.Reservation{}
	}
	writeJSON(w, http.StatusOK, reservations)
}

func queueParams(w http.ResponseWriter, r *http.Request) (string, time.Time, bool) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	dateRaw := strings.TrimSpace(r.URL.Query().Get("date"))
	if doctorID == "" || dateRaw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor_id and date are required")
		return "", time.Time{}, false
	}
	date, err := time.Parse(visitDateLayout, dateRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return "", time.Time{}, false
	}
	return doctorID, date, true
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	doctorID, date, ok := queueParams(w, r)
	if !ok {
		return
	}

	entries, err := h.store.ListQueue(r.Context(), doctorID, date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	doctorID, date, ok := queueParams(w, r)
	if !ok {
		return
	}

	entry, found, err := h.store.NextInQueue(r.Context(), doctorID, date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleQueueWait(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	doctorID, date, ok := queueParams(w, r)
	if !ok {
		return
	}

	numberRaw := strings.TrimSpace(r.URL.Query().Get("number"))
	number, err := strconv.Atoi(numberRaw)
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "invalid_request", "number must be a positive integer")
		return
	}

	wait, err := h.store.EstimateWait(r.Context(), doctorID, date, number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doctor_id":          doctorID,
		"visit_date":         models.DayKey(date),
		"queue_number":       number,
		"estimated_wait_min": int(wait.Minutes()),
	})
}

func (h *Handler) handleExpire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	count, err := h.store.ExpireStale(r.Context(), time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"expired": count})
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", "missing or invalid reservation fields"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "reservation_not_found", "reservation not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", "reservation status does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "queue is contended, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
