// A local stand: a fake artifact registry and a fake instance agent in one
// process. Instances are real HTTP listeners on loopback, so tcp and http
// probes work against them.
//
// Publish a version:
//
//	curl -X PUT localhost:9001/v1/artifacts/payments -d '{"fingerprint":"sha256:aaa"}'
//
// Fingerprints containing "unhealthy" produce instances answering 500,
// fingerprints containing "dead" produce instances that never become
// ready. Everything else comes up healthy.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
)

type instance struct {
	Handle      string `json:"handle"`
	Service     string `json:"service"`
	Fingerprint string `json:"fingerprint"`
	Endpoint    string `json:"endpoint"`
	State       string `json:"state"`

	srv *http.Server
}

type stand struct {
	mu         sync.Mutex
	artifacts  map[string]string
	instances  map[string]*instance
	readyDelay time.Duration
}

func main() {
	registryAddr := flag.String("registry-addr", "0.0.0.0:9001", "fake artifact registry address")
	agentAddr := flag.String("agent-addr", "0.0.0.0:9002", "fake instance agent address")
	readyDelay := flag.Duration("ready-delay", 2*time.Second, "time an instance spends starting")
	flag.Parse()

	s := &stand{
		artifacts:  map[string]string{},
		instances:  map[string]*instance{},
		readyDelay: *readyDelay,
	}

	registryMux := http.NewServeMux()
	registryMux.HandleFunc("GET /v1/artifacts/{artifact}/latest", s.handleLatest)
	registryMux.HandleFunc("PUT /v1/artifacts/{artifact}", s.handlePublish)

	agentMux := http.NewServeMux()
	agentMux.HandleFunc("POST /v1/instances", s.handleStart)
	agentMux.HandleFunc("GET /v1/instances", s.handleList)
	agentMux.HandleFunc("GET /v1/instances/{handle}", s.handleStatus)
	agentMux.HandleFunc("POST /v1/instances/{handle}/drain", s.handleDrain)
	agentMux.HandleFunc("DELETE /v1/instances/{handle}", s.handleStop)

	go func() {
		log.Printf("fake registry on %s", *registryAddr)
		log.Fatal(http.ListenAndServe(*registryAddr, registryMux))
	}()
	log.Printf("fake agent on %s", *agentAddr)
	log.Fatal(http.ListenAndServe(*agentAddr, agentMux))
}

func (s *stand) handleLatest(w http.ResponseWriter, r *http.Request) {
	artifact := r.PathValue("artifact")

	s.mu.Lock()
	fp, exists := s.artifacts[artifact]
	s.mu.Unlock()

	if !exists {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fingerprint": fp})
}

func (s *stand) handlePublish(w http.ResponseWriter, r *http.Request) {
	artifact := r.PathValue("artifact")

	var req struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fingerprint == "" {
		http.Error(w, "body must be {\"fingerprint\": \"...\"}", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.artifacts[artifact] = req.Fingerprint
	s.mu.Unlock()

	log.Printf("published %s -> %s", artifact, req.Fingerprint)
	w.WriteHeader(http.StatusNoContent)
}

func (s *stand) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service     string `json:"service"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	handle, err := uuid.GenerateUUID()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if strings.Contains(req.Fingerprint, "unhealthy") {
		status = http.StatusInternalServerError
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})}
	go srv.Serve(l)

	inst := &instance{
		Handle:      handle,
		Service:     req.Service,
		Fingerprint: req.Fingerprint,
		Endpoint:    l.Addr().String(),
		State:       "starting",
		srv:         srv,
	}

	s.mu.Lock()
	s.instances[handle] = inst
	s.mu.Unlock()

	if !strings.Contains(req.Fingerprint, "dead") {
		time.AfterFunc(s.readyDelay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if cur, alive := s.instances[handle]; alive && cur.State == "starting" {
				cur.State = "ready"
			}
		})
	}

	log.Printf("started %s instance %s (%s) on %s", req.Service, handle, req.Fingerprint, inst.Endpoint)
	writeJSON(w, http.StatusCreated, inst)
}

func (s *stand) handleStatus(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	s.mu.Lock()
	inst, exists := s.instances[handle]
	s.mu.Unlock()

	if !exists {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *stand) handleDrain(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	s.mu.Lock()
	inst, exists := s.instances[handle]
	if exists {
		inst.State = "draining"
	}
	s.mu.Unlock()

	if !exists {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	log.Printf("draining instance %s", handle)
	w.WriteHeader(http.StatusAccepted)
}

func (s *stand) handleStop(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")

	s.mu.Lock()
	inst, exists := s.instances[handle]
	delete(s.instances, handle)
	s.mu.Unlock()

	if !exists {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	_ = inst.srv.Close()
	log.Printf("stopped instance %s", handle)
	w.WriteHeader(http.StatusNoContent)
}

func (s *stand) handleList(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")

	s.mu.Lock()
	instances := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if service == "" || inst.Service == service {
			instances = append(instances, inst)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
