// Command council-server exposes the deliberation engine over HTTP, with an
// SSE endpoint that streams EventBus lifecycle events as they happen. This
// is a thin wrapper per spec.md §1 ("The HTTP/SSE server surface ... thin
// wrappers around the engine") — it owns no deliberation logic itself,
// only request parsing, response shaping, and wiring the Orchestrator's
// EventBus to gin-contrib/sse frames.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"llm-council-engine/internal/config"
	"llm-council-engine/internal/council"
	"llm-council-engine/internal/modelcaller"
)

// maxRequestBodySize mirrors the teacher's MaxRequestBodySize (1MB).
const maxRequestBodySize int64 = 1 << 20

func main() {
	config.LoadEnv()

	apiKey, err := config.OpenRouterAPIKey()
	if err != nil {
		log.Fatal(err)
	}

	configPath := os.Getenv("COUNCIL_CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load council config: %v", err)
	}

	caller := &modelcaller.OpenRouterCaller{APIKey: apiKey}
	bus := council.NewEventBus()
	transcriptRoot := os.Getenv("COUNCIL_TRANSCRIPT_DIR")
	if transcriptRoot == "" {
		transcriptRoot = ".council/logs"
	}

	deps := serverDeps{
		caller:     caller,
		cfg:        cfg,
		bus:        bus,
		transcript: council.TranscriptWriter{RootDir: transcriptRoot},
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
		c.Next()
	})

	allowedOrigins := splitCSVEnv("CORS_ALLOWED_ORIGINS")
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(allowedOrigins) > 0 {
				for _, o := range allowedOrigins {
					if o == origin {
						return true
					}
				}
				return false
			}
			return len(origin) >= 16 && origin[:16] == "http://localhost" ||
				len(origin) >= 14 && origin[:14] == "http://127.0.0"
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/", healthCheck)
	router.POST("/api/deliberate", deps.deliberateHandler)
	router.POST("/api/deliberate/stream", deps.deliberateStreamHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8001"
	}
	log.Printf("Starting council-server on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

type serverDeps struct {
	caller     modelcaller.Caller
	cfg        council.CouncilConfig
	bus        *council.EventBus
	transcript council.TranscriptWriter
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "council deliberation engine"})
}

// deliberateRequest is the wire shape of a POST body, mirroring Query
// (spec.md §3) minus the server-assigned request id.
type deliberateRequest struct {
	Prompt              string  `json:"prompt" binding:"required"`
	Mode                string  `json:"mode"`
	VerdictType         string  `json:"verdict_type"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IncludeDetails      bool    `json:"include_details"`
}

func (r deliberateRequest) toQuery() council.Query {
	mode := council.Mode(r.Mode)
	if mode == "" {
		mode = council.ModeConsensus
	}
	verdictType := council.VerdictType(r.VerdictType)
	if verdictType == "" {
		verdictType = council.VerdictTypeNone
	}
	return council.Query{
		Prompt:              r.Prompt,
		Mode:                mode,
		VerdictType:         verdictType,
		ConfidenceThreshold: r.ConfidenceThreshold,
		IncludeDetails:      r.IncludeDetails,
	}
}

// deliberateHandler runs a full deliberation synchronously and returns
// result.json's envelope in one response.
// POST /api/deliberate
func (d serverDeps) deliberateHandler(c *gin.Context) {
	var req deliberateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	query := req.toQuery()
	if err := council.ValidateQuery(query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.New().String()
	orch := &council.Orchestrator{Caller: d.caller, Config: d.cfg, Bus: d.bus, Transcript: d.transcript}

	result, err := orch.Run(c.Request.Context(), query, requestID, time.Now())
	if err != nil {
		writeFatal(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// deliberateStreamHandler runs a full deliberation and streams every
// EventBus event as an SSE frame as it happens, following the teacher's
// sendMessageStreamHandler shape (explicit per-stage events) but sourced
// from the engine's own EventBus instead of hand-written stage markers.
// POST /api/deliberate/stream
func (d serverDeps) deliberateStreamHandler(c *gin.Context) {
	var req deliberateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	query := req.toQuery()
	if err := council.ValidateQuery(query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.New().String()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events, unsubscribe := d.bus.Subscribe(requestID)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch := &council.Orchestrator{Caller: d.caller, Config: d.cfg, Bus: d.bus, Transcript: d.transcript}
		if _, err := orch.Run(c.Request.Context(), query, requestID, time.Now()); err != nil {
			// The orchestrator already published council.error; nothing
			// further to do here.
			_ = err
		}
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			writeSSEEvent(c, ev)
			return ev.Kind != council.EventComplete
		case <-c.Request.Context().Done():
			return false
		}
	})

	<-done
}

// writeSSEEvent encodes ev as an SSE frame directly via gin-contrib/sse
// (the library gin's own c.SSEvent wraps), giving the envelope shape of
// spec.md §6 exact control over the "data" payload.
func writeSSEEvent(c *gin.Context, ev council.Event) {
	payload := gin.H{
		"event":      ev.Kind,
		"request_id": ev.RequestID,
		"timestamp":  ev.Timestamp,
		"data":       ev.Data,
	}
	if err := sse.Encode(c.Writer, sse.Event{Event: string(ev.Kind), Data: payload}); err != nil {
		log.Printf("failed to encode SSE event: %v", err)
		return
	}
	c.Writer.Flush()
}

func writeFatal(c *gin.Context, err error) {
	var fe *council.FatalError
	code := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}
	if asFatal(err, &fe) {
		body = gin.H{
			"error":                 fe.Kind,
			"request_id":            fe.RequestID,
			"partial_transcript_path": fe.PartialTranscriptDir,
		}
		if fe.Kind == council.ErrConfigInvalid {
			code = http.StatusBadRequest
		}
	}
	c.JSON(code, body)
}

func asFatal(err error, target **council.FatalError) bool {
	fe, ok := err.(*council.FatalError)
	if ok {
		*target = fe
	}
	return ok
}

func splitCSVEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
