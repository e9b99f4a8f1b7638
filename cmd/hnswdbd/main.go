// Command hnswdbd is a thin net/http wrapper around an hnswdb.Engine,
// exposing /health, /dria/query, /dria/insert and /dria/fetch with a
// {success, data, code} response envelope.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dria-labs/hnswdb"
	"github.com/dria-labs/hnswdb/internal/config"
	"github.com/dria-labs/hnswdb/internal/kv"
)

type customResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Code    int         `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(customResponse{Success: code < 400, Data: data, Code: code})
}

type queryRequest struct {
	ContractID string    `json:"contract_id"`
	Vector     []float32 `json:"vector"`
	TopN       int       `json:"top_n"`
	Level      int       `json:"level"`
}

type insertRequest struct {
	ContractID string          `json:"contract_id"`
	Vector     []float32       `json:"vector"`
	Metadata   json.RawMessage `json:"metadata"`
}

type fetchRequest struct {
	ContractID string   `json:"contract_id"`
	ID         []uint32 `json:"id"`
}

func main() {
	cfg := config.FromEnv()

	store, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.RocksDBPath})
	if err != nil {
		log.Fatalf("opening storage at %s: %v", cfg.RocksDBPath, err)
	}
	defer store.Close()

	engine, err := hnswdb.New(hnswdb.WithStore(store))
	if err != nil {
		log.Fatalf("building engine: %v", err)
	}
	defer engine.Close()

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, err := engine.Health(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, status)
	})
	mux.HandleFunc("/dria/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "hello world!")
	})

	mux.HandleFunc("/dria/query", func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := engine.Knn(r.Context(), req.ContractID, req.Vector, req.TopN, hnswdb.KnnOptions{Level: req.Level})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("/dria/insert", func(w http.ResponseWriter, r *http.Request) {
		var req insertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		meta := req.Metadata
		if meta == nil {
			meta = json.RawMessage("{}")
		}
		res, err := engine.InsertBatch(r.Context(), req.ContractID, []hnswdb.InsertItem{{Vector: req.Vector, Metadata: meta}})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("/dria/fetch", func(w http.ResponseWriter, r *http.Request) {
		var req fetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := engine.Fetch(r.Context(), req.ContractID, req.ID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("hnswdbd listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
