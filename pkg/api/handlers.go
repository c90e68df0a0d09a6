package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/muninndb/muninn/pkg/bulk"
	"github.com/muninndb/muninn/pkg/codec"
	"github.com/muninndb/muninn/pkg/query"
	"github.com/muninndb/muninn/pkg/store"
)

const defaultScanLimit = 100

// Server holds the API server state
type Server struct {
	access   RecordAccess
	importer *bulk.Importer
	codec    *codec.RecordCodec
	config   ServerConfig
	metrics  *Metrics
}

// NewServer creates a new API server
func NewServer(access RecordAccess, config ServerConfig, metrics *Metrics) *Server {
	return &Server{
		access:   access,
		importer: bulk.NewImporter(access, 0),
		codec:    codec.NewRecordCodec(),
		config:   config,
		metrics:  metrics,
	}
}

func (s *Server) recordOp(operation string, success bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStoreOperation(operation, success, time.Since(start))
	}
}

// expectedRevision parses the X-Expected-Revision header. Absent means
// unconditional; "0" means the record must not exist.
func expectedRevision(r *http.Request) (*uint64, error) {
	raw := r.Header.Get("X-Expected-Revision")
	if raw == "" {
		return nil, nil
	}
	rev, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid X-Expected-Revision %q", raw)
	}
	return &rev, nil
}

func (s *Server) recordResponse(rec *store.Record) (*RecordResponse, error) {
	payload, err := s.codec.EncodeJSON(rec.Payload)
	if err != nil {
		return nil, err
	}
	return &RecordResponse{
		Partition: rec.Partition,
		ID:        rec.ID,
		Revision:  rec.Revision,
		UpdatedAt: rec.UpdatedAt,
		Payload:   payload,
	}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.RecordHealthCheck(true)
	}
	sendSuccess(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	partition := chi.URLParam(r, "partition")
	id := chi.URLParam(r, "id")

	rec, err := s.access.Get(r.Context(), partition, id)
	if err != nil {
		s.recordOp("get", false, start)
		sendStoreError(w, err)
		return
	}

	resp, err := s.recordResponse(rec)
	if err != nil {
		s.recordOp("get", false, start)
		sendStoreError(w, err)
		return
	}
	s.recordOp("get", true, start)
	sendSuccess(w, resp)
}

func (s *Server) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	partition := chi.URLParam(r, "partition")
	id := chi.URLParam(r, "id")

	expected, err := expectedRevision(r)
	if err != nil {
		s.recordOp("put", false, start)
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	body := http.MaxBytesReader(w, r.Body, 32<<20)
	defer body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		s.recordOp("put", false, start)
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	payload, err := s.codec.DecodeJSON(raw)
	if err != nil {
		s.recordOp("put", false, start)
		sendStoreError(w, err)
		return
	}

	rec, err := s.access.Put(r.Context(), partition, id, payload, expected)
	if err != nil {
		s.recordOp("put", false, start)
		sendStoreError(w, err)
		return
	}

	resp, err := s.recordResponse(rec)
	if err != nil {
		s.recordOp("put", false, start)
		sendStoreError(w, err)
		return
	}
	s.recordOp("put", true, start)
	sendSuccess(w, resp)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	partition := chi.URLParam(r, "partition")
	id := chi.URLParam(r, "id")

	expected, err := expectedRevision(r)
	if err != nil {
		s.recordOp("delete", false, start)
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.access.Delete(r.Context(), partition, id, expected); err != nil {
		s.recordOp("delete", false, start)
		sendStoreError(w, err)
		return
	}
	s.recordOp("delete", true, start)
	sendSuccess(w, map[string]string{"message": "Record deleted"})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<20)).Decode(&req); err != nil {
		s.recordOp("batch", false, start)
		sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	if len(req.Operations) == 0 {
		s.recordOp("batch", false, start)
		sendError(w, "Batch has no operations", http.StatusBadRequest)
		return
	}

	muts := make([]store.Mutation, 0, len(req.Operations))
	for i, op := range req.Operations {
		m := store.Mutation{
			Partition:        op.Partition,
			ID:               op.ID,
			Delete:           op.Delete,
			ExpectedRevision: op.ExpectedRevision,
		}
		if !op.Delete {
			payload, err := s.codec.DecodeJSON(op.Payload)
			if err != nil {
				s.recordOp("batch", false, start)
				sendError(w, fmt.Sprintf("operation %d: %v", i, err), statusFor(err))
				return
			}
			m.Payload = payload
		}
		muts = append(muts, m)
	}

	if err := s.access.Batch(r.Context(), muts); err != nil {
		s.recordOp("batch", false, start)
		sendStoreError(w, err)
		return
	}
	s.recordOp("batch", true, start)
	sendSuccess(w, map[string]interface{}{"applied": len(muts)})
}

// scanOptions parses order/from/till/limit query parameters.
func (s *Server) scanOptions(r *http.Request) (store.ScanOptions, error) {
	opts := store.ScanOptions{Limit: s.config.ScanLimit}
	if opts.Limit <= 0 {
		opts.Limit = defaultScanLimit
	}

	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return opts, fmt.Errorf("invalid limit %q", raw)
		}
		if limit < opts.Limit {
			opts.Limit = limit
		}
	}
	if q.Get("order") == "time" {
		opts.ByTime = true
		if raw := q.Get("from"); raw != "" {
			from, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return opts, fmt.Errorf("invalid from %q", raw)
			}
			opts.From = from
		}
		if raw := q.Get("till"); raw != "" {
			till, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return opts, fmt.Errorf("invalid till %q", raw)
			}
			opts.Till = till
		}
	}
	return opts, nil
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	partition := chi.URLParam(r, "partition")

	opts, err := s.scanOptions(r)
	if err != nil {
		s.recordOp("scan", false, start)
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conditions, err := query.ParseAll(r.URL.Query()["where"])
	if err != nil {
		s.recordOp("scan", false, start)
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch, err := s.access.Scan(r.Context(), partition, opts)
	if err != nil {
		s.recordOp("scan", false, start)
		sendStoreError(w, err)
		return
	}
	ch = query.Apply(r.Context(), ch, conditions)

	records := make([]*RecordResponse, 0, opts.Limit)
	for res := range ch {
		if res.Err != nil {
			s.recordOp("scan", false, start)
			sendStoreError(w, res.Err)
			return
		}
		resp, err := s.recordResponse(res.Record)
		if err != nil {
			s.recordOp("scan", false, start)
			sendStoreError(w, err)
			return
		}
		records = append(records, resp)
	}
	s.recordOp("scan", true, start)
	sendSuccess(w, records)
}

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	partition := chi.URLParam(r, "partition")

	applied, err := s.importer.ImportCSV(r.Context(), partition, http.MaxBytesReader(w, r.Body, 256<<20))
	if err != nil {
		s.recordOp("import", false, start)
		sendError(w, fmt.Sprintf("imported %d records before failure: %v", applied, err), statusFor(err))
		return
	}
	s.recordOp("import", true, start)
	sendSuccess(w, map[string]interface{}{"imported": applied})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	partition := chi.URLParam(r, "partition")

	cols, err := parseColumnsParam(r.URL.Query().Get("columns"))
	if err != nil {
		s.recordOp("export", false, start)
		sendError(w, err.Error(), statusFor(err))
		return
	}

	opts, err := s.scanOptions(r)
	if err != nil {
		s.recordOp("export", false, start)
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts.Limit = 0 // exports stream the whole range

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", partition))
	if _, err := bulk.ExportCSV(r.Context(), s.access, w, partition, cols, opts); err != nil {
		// Headers are gone; the truncated body is the best signal left.
		s.recordOp("export", false, start)
		return
	}
	s.recordOp("export", true, start)
}

// parseColumnsParam parses "name:type,name:type" into typed columns.
func parseColumnsParam(raw string) ([]bulk.Column, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: columns parameter is required", bulk.ErrBadHeader)
	}
	cells := append([]string{"id"}, strings.Split(raw, ",")...)
	return bulk.ParseHeader(cells)
}
