package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KaramelBytes/churnlens/internal/churn"
	"github.com/KaramelBytes/churnlens/internal/predict"
	"github.com/KaramelBytes/churnlens/internal/session"
	"github.com/KaramelBytes/churnlens/internal/table"
)

const exportBaseName = "churn_predictions"

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps input and session problems to 400, a dataset replaced
// mid-request to 409, and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := churn.Classify(err)
	status := http.StatusInternalServerError
	msg := "An error occurred: " + err.Error()
	switch {
	case kind == churn.KindInput:
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, session.ErrStaleSession):
		status = http.StatusConflict
		msg = "The dataset changed while this request was running. Please retry."
	case kind == churn.KindSession:
		status = http.StatusBadRequest
		msg = "No dataset loaded. Please upload a CSV file first."
	default:
		s.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind.String()),
			slog.Any("err", err))
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "message": "API is running"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.svc.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Dataset cleared"})
}

type summaryResponse struct {
	TotalCustomers          int     `json:"total_customers"`
	HighRiskCustomers       int     `json:"high_risk_customers"`
	LowRiskCustomers        int     `json:"low_risk_customers"`
	AverageChurnProbability float64 `json:"average_churn_probability"`
	HighRiskPercentage      float64 `json:"high_risk_percentage"`
}

type processingTime struct {
	Prediction float64 `json:"prediction"`
	Total      float64 `json:"total"`
}

type predictResponse struct {
	Success        bool              `json:"success"`
	Summary        summaryResponse   `json:"summary"`
	Columns        []churn.Column    `json:"columns"`
	Customers      []*session.Record `json:"customers"`
	Dropped        []string          `json:"dropped_columns,omitempty"`
	Message        string            `json:"message"`
	ProcessingTime processingTime    `json:"processing_time"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("File exceeds %d bytes", tooBig.Limit)})
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file provided"})
		}
		return
	}
	defer file.Close()
	if strings.TrimSpace(hdr.Filename) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file selected"})
		return
	}
	if !table.Supported(hdr.Filename) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid file type. Please upload a CSV or XLSX file", Kind: churn.KindInput.String()})
		return
	}

	up, err := s.svc.Upload(r.Context(), hdr.Filename, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := up.Session
	customers := make([]*session.Record, len(sess.Records))
	for i := range sess.Records {
		customers[i] = &sess.Records[i]
	}
	writeJSON(w, http.StatusOK, predictResponse{
		Success: true,
		Summary: summaryResponse{
			TotalCustomers:          sess.Summary.Total,
			HighRiskCustomers:       sess.Summary.HighRiskCount,
			LowRiskCustomers:        sess.Summary.LowRiskCount,
			AverageChurnProbability: sess.Summary.AvgProbability,
			HighRiskPercentage:      sess.Summary.HighRiskPercentage,
		},
		Columns:   up.Columns,
		Customers: customers,
		Dropped:   sess.Dropped,
		Message:   "Predictions completed successfully",
		ProcessingTime: processingTime{
			Prediction: predict.Round2(up.PredictionTime.Seconds()),
			Total:      predict.Round2(up.TotalTime.Seconds()),
		},
	})
}

type explainResponse struct {
	Success           bool     `json:"success"`
	CustomerIndex     int      `json:"customer_index"`
	Explanation       string   `json:"explanation"`
	NarrativeFallback bool     `json:"narrative_fallback"`
	LimeFeatures      [][2]any `json:"lime_features"`
	ChurnProbability  float64  `json:"churn_probability"`
	Score             float64  `json:"score"`
	Cached            bool     `json:"cached"`
	GenerationTime    float64  `json:"generation_time"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid customer index", Kind: churn.KindInput.String()})
		return
	}
	res, err := s.svc.Explain(r.Context(), index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e := res.Explanation
	features := make([][2]any, len(e.Attributions))
	for i, a := range e.Attributions {
		features[i] = [2]any{a.Feature, a.Weight}
	}
	score := e.Score
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	writeJSON(w, http.StatusOK, explainResponse{
		Success:           true,
		CustomerIndex:     index,
		Explanation:       e.Narrative,
		NarrativeFallback: e.NarrativeFailed,
		LimeFeatures:      features,
		ChurnProbability:  e.ChurnProbability,
		Score:             score,
		Cached:            res.Cached(),
		GenerationTime:    predict.Round2(res.GenerationTime.Seconds()),
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No message provided", Kind: churn.KindInput.String()})
		return
	}
	reply, err := s.svc.Chat(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req churn.ExportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxUpload)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No data provided", Kind: churn.KindInput.String()})
		return
	}
	format := strings.ToLower(req.Format)
	if format == "" {
		format = table.FormatCSV
	}
	req.Format = format
	var buf bytes.Buffer
	if err := churn.Export(&buf, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	contentType := "text/csv; charset=utf-8"
	if format == table.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportBaseName+"."+format))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
