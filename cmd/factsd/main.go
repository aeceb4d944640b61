package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/joelkehle/projectfacts/internal/consolidate"
	"github.com/joelkehle/projectfacts/internal/extract"
	"github.com/joelkehle/projectfacts/internal/geocode"
	"github.com/joelkehle/projectfacts/internal/httpapi"
	"github.com/joelkehle/projectfacts/internal/ingest"
	"github.com/joelkehle/projectfacts/internal/llm"
	"github.com/joelkehle/projectfacts/internal/oracle"
	"github.com/joelkehle/projectfacts/internal/reconcile"
	"github.com/joelkehle/projectfacts/internal/store"
)

func main() {
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides DB_PATH env var)")
	rpsFlag := flag.Float64("llm-rps", 1.0, "max model requests per second")
	flag.Parse()

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath = os.Getenv("DB_PATH")
	}
	if dbPath == "" {
		dbPath = "./data/facts.db"
	}

	shutdown, err := setupTracing(context.Background())
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("failed to initialize sqlite store (%s): %v", dbPath, err)
	}
	defer st.Close()
	log.Printf("using sqlite store at %s", dbPath)

	caller, err := llm.NewAnthropicCallerFromEnv(*rpsFlag)
	if err != nil {
		log.Fatalf("failed to initialize model client: %v", err)
	}

	engine := reconcile.NewEngine(st, oracle.New(caller))
	applier := reconcile.NewApplier(st, st)
	ingestor := ingest.NewIngestor(st, extract.NewOrchestrator(caller), engine, applier)

	var geocoder consolidate.Geocoder
	if base := os.Getenv("GEOCODE_URL"); base != "" {
		geocoder = geocode.NewClient(base)
		log.Printf("geocoding via %s", base)
	}
	pipeline := consolidate.NewPipeline(st, engine, applier, caller, geocoder)

	h := httpapi.NewServer(st, ingestor, pipeline, reconcile.NewLedger(st, st))
	log.Printf("factsd listening on %s", addr)
	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal(err)
	}
}

// setupTracing installs an OTLP trace exporter when an endpoint is
// configured; otherwise spans stay on the default no-op provider.
func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("factsd")))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
