package config

import "time"

// Config defaults
const (
	DefaultPath = "config.yaml"

	FormatPNG = "png"
	FormatJPG = "jpg"

	BackendTesseract = "tesseract"
	BackendRemote    = "remote"

	DefaultQuality     = 95
	DefaultDateFormat  = "01-02" // MM-DD bucket under each ID_ folder
	DefaultHistoryFile = "history.txt"
	DefaultLogsDir     = "logs"

	DefaultOCRLanguage   = "eng+chi_sim"
	DefaultMinConfidence = 0.3
	DefaultOCRTimeout    = 5 * time.Second

	DefaultCaptureTimeout    = 5 * time.Second
	DefaultCalibrationOutput = "fullscreen.png"

	DefaultSimilarityDistance = 2

	MaxIntervalSeconds = 86400

	DefaultModelType         = "yolov8n"
	DefaultClassifierTimeout = 5 * time.Second

	DefaultInferenceAddr = "localhost:50051"
)

var validModelTypes = map[string]bool{
	"yolov8n":   true,
	"yolov8s":   true,
	"yolov8m":   true,
	"yolov5n":   true,
	"yolov5s":   true,
	"yolov5m":   true,
	"mobilenet": true,
}
