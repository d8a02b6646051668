// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package orchestrator wires the orchestration-core components into an
// HTTP service: a workflow-execution endpoint backed by the Workflow
// Orchestrator driver, health/metrics endpoints, and a JWT-gated
// introspection endpoint for inspecting a past execution's metadata.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/axonflow-oss/orchestration-core/internal/audit"
	"github.com/axonflow-oss/orchestration-core/internal/classifier"
	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/config"
	"github.com/axonflow-oss/orchestration-core/internal/engine"
	"github.com/axonflow-oss/orchestration-core/internal/handlers"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/predictor"
	"github.com/axonflow-oss/orchestration-core/internal/routing"
	"github.com/axonflow-oss/orchestration-core/internal/store"
	"github.com/axonflow-oss/orchestration-core/internal/types"
	"github.com/axonflow-oss/orchestration-core/shared/logger"
)

var serverLog = logger.New("orchestration-core")

// executionRegistry tracks the in-memory Orchestrator instances backing
// in-flight and recently completed executions, keyed by execution ID, so
// the debug endpoint can serve their metadata without a dedicated store.
type executionRegistry struct {
	mu   sync.Mutex
	byID map[string]*engine.Orchestrator
}

func newExecutionRegistry() *executionRegistry {
	return &executionRegistry{byID: make(map[string]*engine.Orchestrator)}
}

func (r *executionRegistry) put(executionID string, orch *engine.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[executionID] = orch
}

func (r *executionRegistry) get(executionID string) (*engine.Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orch, ok := r.byID[executionID]
	return orch, ok
}

var executions = newExecutionRegistry()

// Run is the exported entry point: it wires every collaborator,
// registers HTTP routes, and blocks serving until the process exits.
func Run() {
	log.Println("Starting AxonFlow Orchestration Core...")

	db := openDatabase()
	if db != nil {
		defer db.Close()
	}

	cfgStore := config.New(config.Options{
		DB:       db,
		FilePath: os.Getenv("ORCHESTRATION_CONFIG_FILE"),
		Secrets:  buildSecretsManager(),
		Logger:   logger.New("config-store"),
	})

	llm := buildLLMProvider(cfgStore)

	deps := engine.Deps{
		Config:      cfgStore,
		Classifier:  classifier.New(llm, cfgStore, logger.New("classifier")),
		Predictor:   predictor.New(db, logger.New("predictor")),
		Routing:     routing.New(cfgStore),
		Compression: compression.New(llm),
		Handlers:    handlers.NewRegistry(llm, compression.New(llm)),
		Logger:      logger.New("workflow-orchestrator"),
	}
	deps.Memory = compression.NewMemory(deps.Compression)

	if db != nil {
		deps.Audit = audit.New(db, logger.New("audit"), 100)
		deps.AgentAIS = store.NewAgentStore(db)
		deps.MemoryStore = store.NewMemoryRepository(db)
		deps.Execution = store.NewExecutionRepository(db)
	}

	r := mux.NewRouter()
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.HandleFunc("/healthz", healthHandler(db)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/workflows/execute", executeWorkflowHandler(deps)).Methods("POST")
	r.HandleFunc("/debug/orchestration/{execution_id}", requireBearerAuth(debugExecutionHandler)).Methods("GET")

	port := getEnv("PORT", "8082")
	handler := c.Handler(r)
	log.Printf("Orchestration Core listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

func openDatabase() *sql.DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Println("WARNING: DATABASE_URL not set; budget prediction, audit persistence, and agent/memory lookups are disabled")
		return nil
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Printf("WARNING: failed to open database: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		log.Printf("WARNING: failed to ping database: %v", err)
		return nil
	}
	log.Println("connected to orchestration database")
	return db
}

// buildSecretsManager wires an AWS Secrets Manager client when a Bedrock
// region is configured, falling back to the env-var-prefix manager for
// self-hosted deployments that keep credentials in the process environment.
func buildSecretsManager() config.SecretsManager {
	region := os.Getenv("BEDROCK_REGION")
	if region == "" {
		return config.NewEnvSecretsManager()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mgr, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{Region: region})
	if err != nil {
		log.Printf("WARNING: failed to build AWS secrets manager, falling back to env vars: %v", err)
		return config.NewEnvSecretsManager()
	}
	return mgr
}

// buildLLMProvider wires the Bedrock provider when AWS config resolves,
// falling back to the mock provider for local development and tests. When
// the configured model carries a CredentialsRef, its fields are resolved
// through the Configuration Store's SecretsManager and injected into the
// AWS credential chain ahead of the ambient environment/IAM role.
func buildLLMProvider(cfgStore *config.Store) llmprovider.Provider {
	region := os.Getenv("BEDROCK_REGION")
	if region == "" {
		log.Println("BEDROCK_REGION not set; using mock LLM provider")
		return llmprovider.NewMockProvider()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfgOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	model := cfgStore.ModelFor(ctx, types.TierBalanced, "")
	if model.CredentialsRef != "" {
		if fields, err := cfgStore.ResolveSecret(ctx, model.CredentialsRef); err == nil && fields["access_key"] != "" {
			creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(fields["access_key"], fields["secret_key"], ""))
			cfgOpts = append(cfgOpts, awsconfig.WithCredentialsProvider(creds))
		} else if err != nil {
			log.Printf("WARNING: failed to resolve %s, falling back to ambient AWS credentials: %v", model.CredentialsRef, err)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		log.Printf("WARNING: failed to load AWS config, using mock LLM provider: %v", err)
		return llmprovider.NewMockProvider()
	}

	client := bedrockruntime.NewFromConfig(awsCfg)
	return llmprovider.NewBedrockProvider(client, region)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type executeWorkflowRequest struct {
	Workflow types.Workflow `json:"workflow"`
}

type executeWorkflowResponse struct {
	ExecutionID string                   `json:"execution_id"`
	Active      bool                     `json:"active"`
	Results     map[string]interface{}   `json:"results"`
	Summary     *types.ExecutionSummary  `json:"summary,omitempty"`
	Metadata    *types.OrchestrationMetadata `json:"metadata,omitempty"`
}

// executeWorkflowHandler drives one workflow end-to-end synchronously:
// initialize, execute every step in order, complete. Embedders needing
// step-by-step control should use the Orchestrator type directly rather
// than this convenience endpoint.
func executeWorkflowHandler(deps engine.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeWorkflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		orch := engine.New(deps)
		ctx := r.Context()

		active := orch.Initialize(ctx, req.Workflow.WorkflowID, req.Workflow.AgentID, req.Workflow.UserID, req.Workflow.Steps)
		if !active {
			writeJSON(w, http.StatusOK, executeWorkflowResponse{Active: false})
			return
		}
		if meta := orch.Metadata(); meta != nil {
			executions.put(meta.ExecutionID, orch)
		}

		results := make(map[string]interface{}, len(req.Workflow.Steps))
		for _, step := range req.Workflow.Steps {
			result := orch.ExecuteStep(ctx, step.StepID, step.Params, nil)
			results[step.StepID] = result
			if result != nil && !result.Success && !step.ContinueOnError {
				break
			}
		}

		meta := orch.Metadata()
		summary := orch.Complete(ctx)

		resp := executeWorkflowResponse{
			Active:   true,
			Results:  results,
			Summary:  summary,
			Metadata: meta,
		}
		if meta != nil {
			resp.ExecutionID = meta.ExecutionID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func debugExecutionHandler(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["execution_id"]
	orch, ok := executions.get(executionID)
	if !ok {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	meta := orch.Metadata()
	if meta == nil {
		http.Error(w, "execution metadata unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		dbUp := db != nil
		if dbUp {
			if err := db.PingContext(r.Context()); err != nil {
				dbUp = false
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    status,
			"service":   "orchestration-core",
			"timestamp": time.Now().UTC(),
			"components": map[string]bool{
				"database": dbUp,
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		serverLog.Error("", "", "failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
