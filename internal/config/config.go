// Package config resolves the engine options once at startup. A Config is a
// plain value: copies are independent and safe to share across goroutines.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zapcore"

	"github.com/example/kyc-verif/internal/kyc"
)

// Config holds every recognized engine option. The json tag is the option name.
type Config struct {
	DebugLevel                  string `json:"debug_level" validate:"oneof=verbose info warn error fatal"`
	DebugWriteInputImageEnabled bool   `json:"debug_write_input_image_enabled"`
	DebugInternalDataPath       string `json:"debug_internal_data_path"`

	GPUCtrlMemoryEnabled bool   `json:"gpu_ctrl_memory_enabled"`
	NumThreads           int    `json:"num_threads" validate:"min=-1,ne=0"`
	MaxLatency           int    `json:"max_latency" validate:"min=-1"`
	MaxBatchSize         int    `json:"max_batchsize" validate:"min=-1,ne=0"`
	AsmEnabled           bool   `json:"asm_enabled"`
	IntrinEnabled        bool   `json:"intrin_enabled"`
	OpenVINOActivation   string `json:"openvino_activation" validate:"oneof=auto on off"`
	OpenVINODevice       string `json:"openvino_device"`

	GraphType                  string  `json:"graph_type" validate:"oneof=dense sparse"`
	Graph2PassesEnabled        bool    `json:"graph_2passes_enabled"`
	Graph2ndPassOCRThreshold   float64 `json:"graph_2ndpass_ocr_threshold" validate:"gte=0,lte=1"`
	Graph2ndPassUmeyamaEnabled bool    `json:"graph_2ndpass_umeyama_enabled"`

	OCR2Passes               bool    `json:"ocr_2passes"`
	OCR2ndPassThreshold      float64 `json:"ocr_2ndpass_threshold" validate:"gte=0,lte=1"`
	OCRPatchAntialias        bool    `json:"ocr_patch_antialias"`
	OCRTunningApplyPatterns  bool    `json:"ocr_tunning_apply_patterns"`
	OCRTunningApplyWhitelist bool    `json:"ocr_tunning_apply_whitelist"`
	OCRTunningApplyBlacklist bool    `json:"ocr_tunning_apply_blacklist"`
	OCREngine                string  `json:"ocr_engine" validate:"oneof=template tesseract"`

	MagsacSigma          float64 `json:"magsac_sigma" validate:"gt=0"`
	MagsacMaxIters       int     `json:"magsac_max_iters" validate:"min=1"`
	MagsacResampler      string  `json:"magsac_resampler" validate:"oneof=uniform prosac"`
	MagsacMinInlierRatio float64 `json:"magsac_min_inlier_ratio" validate:"gt=0,lte=1"`
	MagsacSeed           int     `json:"magsac_seed"`

	TPSEnabled bool   `json:"tps_enabled"`
	TPSSpeed   int    `json:"tps_speed" validate:"min=1,max=3"`
	TPSCost    string `json:"tps_cost" validate:"oneof=l2 l1"`

	STNEnabled bool `json:"stn_enabled"`

	DetectThreshold float64 `json:"detect_threshold" validate:"gte=0,lte=1"`
	MatchThreshold  float64 `json:"match_threshold" validate:"gte=0,lte=1"`

	CanonicalWidth  int `json:"canonical_width" validate:"min=64,max=4096"`
	CanonicalHeight int `json:"canonical_height" validate:"min=32,max=4096"`
	MaxImagePixels  int `json:"max_image_pixels" validate:"min=1"`

	TextSegmentationType string `json:"text_segmentation_type" validate:"oneof=watershed projection"`

	AssetsFolder     string `json:"assets_folder"`
	LicenseTokenFile string `json:"license_token_file"`
	LicenseTokenData string `json:"license_token_data"`
}

// Default returns the configuration used when an option is not supplied.
func Default() Config {
	return Config{
		DebugLevel:            "info",
		DebugInternalDataPath: ".",

		NumThreads:         -1,
		MaxLatency:         -1,
		MaxBatchSize:       -1,
		AsmEnabled:         true,
		IntrinEnabled:      true,
		OpenVINOActivation: "auto",
		OpenVINODevice:     "CPU",

		GraphType:                  "dense",
		Graph2PassesEnabled:        true,
		Graph2ndPassOCRThreshold:   0.9,
		Graph2ndPassUmeyamaEnabled: true,

		OCR2Passes:               true,
		OCR2ndPassThreshold:      0.9,
		OCRPatchAntialias:        true,
		OCRTunningApplyPatterns:  true,
		OCRTunningApplyWhitelist: true,
		OCRTunningApplyBlacklist: true,
		OCREngine:                "template",

		MagsacSigma:          2.0,
		MagsacMaxIters:       5000,
		MagsacResampler:      "uniform",
		MagsacMinInlierRatio: 0.5,
		MagsacSeed:           1,

		TPSEnabled: true,
		TPSSpeed:   1,
		TPSCost:    "l2",

		STNEnabled: true,

		DetectThreshold: 0.3,
		MatchThreshold:  0.5,

		CanonicalWidth:  856,
		CanonicalHeight: 540,
		MaxImagePixels:  40_000_000,

		TextSegmentationType: "watershed",
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			return strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		})
	})
	return validate
}

// Load applies options on top of Default and validates the outcome.
// Unknown keys and mistyped values fail with InvalidConfig.
func Load(options map[string]any) (Config, error) {
	raw, err := json.Marshal(options)
	if err != nil {
		return Config{}, kyc.Wrap(kyc.KindInvalidConfig, "config.load", err)
	}
	return LoadJSON(raw)
}

// LoadJSON parses a JSON object of options.
func LoadJSON(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, kyc.Wrap(kyc.KindInvalidConfig, "config.load", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a JSON options file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, kyc.Wrap(kyc.KindInvalidConfig, "config.load_file", err)
	}
	return LoadJSON(data)
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
		return kyc.Errorf(kyc.KindInvalidConfig, "config.validate", "%s", strings.Join(msgs, "; "))
	}
	return kyc.Wrap(kyc.KindInvalidConfig, "config.validate", err)
}

// Map re-serializes every recognized option with its Go-typed value.
func (c Config) Map() map[string]any {
	v := reflect.ValueOf(c)
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		out[name] = v.Field(i).Interface()
	}
	return out
}

// JSON encodes the options as a JSON object.
func (c Config) JSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

// Workers resolves num_threads.
func (c Config) Workers() int {
	if c.NumThreads > 0 {
		return c.NumThreads
	}
	return runtime.GOMAXPROCS(0)
}

// QueueSize resolves max_batchsize.
func (c Config) QueueSize() int {
	if c.MaxBatchSize > 0 {
		return c.MaxBatchSize
	}
	return 2 * c.Workers()
}

// LogLevel maps debug_level onto a zap level.
func (c Config) LogLevel() zapcore.Level {
	switch c.DebugLevel {
	case "verbose":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}
