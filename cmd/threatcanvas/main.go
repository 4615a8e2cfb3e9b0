package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aversant/threatcanvas/internal/api"
	"github.com/aversant/threatcanvas/internal/audit"
	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/inference"
	"github.com/aversant/threatcanvas/internal/inference/fewshot"
	"github.com/aversant/threatcanvas/internal/notify"
	"github.com/aversant/threatcanvas/internal/objectstore"
	"github.com/aversant/threatcanvas/internal/pipeline"
	"github.com/aversant/threatcanvas/internal/repository/sqlite"
)

func main() {
	logger := common.Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn("threatcanvas: .env file not loaded", "error", err)
	} else {
		logger.Info("threatcanvas: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	dbPath := flag.String("db", "", "path to the SQLite database (overrides THREATCANVAS_DB_PATH)")
	dataDir := flag.String("data", defaultDataDir(), "root of the object store holding images, examples and audit records")
	flag.Parse()

	logger.Info("threatcanvas: startup initiated", "addr", *addr, "data", *dataDir)

	storeCfg, err := sqlite.LoadConfig()
	if err != nil {
		logger.Error("threatcanvas: store config load failed", "error", err)
		fmt.Println("store config error:", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*dbPath); trimmed != "" {
		storeCfg.Path = trimmed
	}
	store, err := sqlite.OpenWithConfig(storeCfg)
	if err != nil {
		logger.Error("threatcanvas: store initialization failed", "error", err)
		fmt.Println("store error:", err)
		os.Exit(1)
	}
	defer store.Close()
	repo := sqlite.NewRepository(store)

	objects, err := objectstore.NewFSStore(*dataDir)
	if err != nil {
		logger.Error("threatcanvas: object store initialization failed", "error", err)
		fmt.Println("object store error:", err)
		os.Exit(1)
	}

	gateway, err := inference.NewGateway(inference.LoadConfig(), nil)
	if err != nil {
		logger.Error("threatcanvas: inference gateway initialization failed", "error", err)
		fmt.Println("inference error:", err)
		os.Exit(1)
	}

	relay := notify.NewRelay(notify.LoadConfig())
	examples := fewshot.NewRetriever(objects)
	recorder := audit.NewRecorder(objects)
	runner := pipeline.NewRunner(pipeline.LoadConfig(), repo, objects, gateway, relay, recorder)

	server, err := api.NewServer(repo, gateway, gateway, runner, objects, examples, relay)
	if err != nil {
		logger.Error("threatcanvas: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("threatcanvas: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("threatcanvas: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

func defaultDataDir() string {
	if env := strings.TrimSpace(os.Getenv("THREATCANVAS_DATA_DIR")); env != "" {
		return env
	}
	return filepath.Join("data", "objects")
}
