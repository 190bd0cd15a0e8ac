package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/processor"
	"visit-reports-go/internal/store"
	"visit-reports-go/internal/types"
)

const maxUploadBytes = 200 << 20

type server struct {
	runner processor.Runner
	log    *logger.Logger
}

func newServer(runner processor.Runner, log *logger.Logger) *server {
	return &server{runner: runner, log: log.Component("api")}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		s.log.WithRequest(r).Debug("health check")
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// handleProcess accepts a multipart form with an "audio" mp3 file, or a
// "transcript" JSON file saved by an earlier run, plus optional
// customer_name, report_date (YYYY-MM-DD) and sales_person fields.
func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "process")
	reqLog.Info("process request received")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeResult(w, reqLog, processor.Result{}, failure.Wrap(failure.InvalidInput, "process", err))
		return
	}

	visit, err := visitFromForm(r)
	if err != nil {
		writeResult(w, reqLog, processor.Result{}, err)
		return
	}

	if artifact, ok, err := transcriptFromForm(r); ok || err != nil {
		if err != nil {
			writeResult(w, reqLog, processor.Result{}, err)
			return
		}
		res, err := processor.ProcessTranscript(r.Context(), s.runner, artifact, visit)
		writeResult(w, reqLog, res, err)
		return
	}

	audio, err := audioFromForm(r)
	if err != nil {
		writeResult(w, reqLog, processor.Result{}, err)
		return
	}
	reqLog = reqLog.WithField("filename", audio.Filename).WithField("size_bytes", audio.Size())
	res, err := processor.ProcessAudio(r.Context(), s.runner, audio, visit)
	writeResult(w, reqLog, res, err)
}

func audioFromForm(r *http.Request) (types.AudioAsset, error) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		return types.AudioAsset{}, failure.New(failure.InvalidInput, "process", "missing audio file")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return types.AudioAsset{}, failure.Wrap(failure.InvalidInput, "process", err)
	}
	return types.AudioAsset{
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

func transcriptFromForm(r *http.Request) (*types.TranscriptArtifact, bool, error) {
	file, header, err := r.FormFile("transcript")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, failure.Wrap(failure.InvalidInput, "process", err)
	}
	defer file.Close()

	a, err := store.Read(file, header.Filename)
	return a, true, err
}

func visitFromForm(r *http.Request) (types.VisitDetails, error) {
	v := types.VisitDetails{
		CustomerName: strings.TrimSpace(r.FormValue("customer_name")),
		SalesPerson:  strings.TrimSpace(r.FormValue("sales_person")),
	}
	if raw := strings.TrimSpace(r.FormValue("report_date")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return v, failure.New(failure.InvalidInput, "process", "invalid report_date %q (want YYYY-MM-DD)", raw)
		}
		v.ReportDate = d
	}
	return v, nil
}

func statusFor(kind failure.Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case failure.InvalidInput, failure.InvalidConfig:
		return http.StatusBadRequest
	case failure.TranscriptionTimeout:
		return http.StatusGatewayTimeout
	case failure.TranscriptionProvider, failure.Generation:
		return http.StatusBadGateway
	case failure.Canceled:
		// client went away
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, log *logrus.Entry, res processor.Result, err error) {
	if err != nil && res.Error == "" {
		res.Error = err.Error()
		res.ErrorKind = failure.KindOf(err)
		res.DiagnosticID = failure.DiagnosticID(err)
	}
	status := statusFor(res.ErrorKind)
	log = log.WithField("status", status).WithField("duration_ms", res.DurationMs)
	if err != nil {
		log.WithField("kind", res.ErrorKind).WithField("error", res.Error).Warn("process failed")
	} else {
		log.Info("process finished")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}
