package cmd

import (
	"fmt"

	"github.com/andresmejia3/faceclari/internal/config"
	"github.com/andresmejia3/faceclari/internal/vision"
	"go.uber.org/zap"
)

// newProvider starts the configured vision backend.
func newProvider(cfg *config.Config, log *zap.Logger) (vision.Provider, error) {
	switch cfg.Vision.Provider {
	case "python":
		p, err := vision.NewPythonProvider(vision.PythonConfig{
			Script:      cfg.Vision.PythonWorker,
			Model:       cfg.Recognition.Model,
			Engines:     cfg.Scan.Workers,
			ReadTimeout: cfg.WorkerTimeout(),
		}, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "dlib":
		return vision.NewDlibProvider(cfg.Vision.ModelDir, cfg.Recognition.Model)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Vision.Provider)
	}
}
