// Package server - HTTP front end that crops faces from uploaded images.
package server

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nvr-ai/facecrop/config"
	"github.com/nvr-ai/facecrop/images"
	"github.com/nvr-ai/facecrop/inference"
	"github.com/nvr-ai/facecrop/pipeline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// UploadField is the multipart field carrying the images.
	UploadField = "files"
	// FacesCountHeader reports the number of crops in the archive.
	FacesCountHeader = "X-Faces-Count"
	// SkippedFilesHeader lists the uploads that produced no crops.
	SkippedFilesHeader = "X-Skipped-Files"
	// DefaultBodyLimit caps the size of a crop request.
	DefaultBodyLimit = "64M"
)

// Skipped describes an upload that produced no crops.
type Skipped struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// ErrorResponse is the JSON body returned when a request yields no crops.
type ErrorResponse struct {
	Error   string    `json:"error"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Server crops faces from uploaded images with a shared detector session.
type Server struct {
	session inference.Session
	cfg     config.Config
	codec   *images.FileCodec
	random  images.RandomSource
	logger  logrus.FieldLogger
	metrics *pipeline.Metrics
}

// New creates a server.
//
// Arguments:
//   - session: The detector session. It must be safe for concurrent use.
//   - cfg: Defaults for every request. Query parameters override the thresholds.
//   - logger: The logger. Nil selects the logrus standard logger.
//
// Returns:
//   - *Server: The server.
//   - error: An error if the session is nil or cfg is invalid.
func New(session inference.Session, cfg config.Config, logger logrus.FieldLogger) (*Server, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if err := cfg.ValidateModel(); err != nil {
		return nil, errors.Wrap(err, "invalid server config")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		session: session,
		cfg:     cfg,
		codec:   images.NewFileCodec(cfg.AutoOrient, cfg.JPEGQuality),
		random:  cfg.RandomSource(),
		logger:  logger,
		metrics: pipeline.NewMetrics(),
	}, nil
}

// Echo returns an echo instance with the server's routes and middleware.
//
// Routes:
//   - GET  /healthz: Liveness probe.
//   - GET  /metrics: Cumulative pipeline metrics as JSON.
//   - POST /crop:    Multipart upload, returns a ZIP of face crops.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(DefaultBodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := s.logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request served")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
	e.POST("/crop", s.handleCrop)
	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// handleCrop runs each upload through the pipeline on its own and streams
// back a ZIP whose entries are named {upload}_{crop}.
func (s *Server) handleCrop(c echo.Context) error {
	cfg, err := s.requestConfig(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a multipart form")
	}
	files := form.File[UploadField]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded in field "+UploadField)
	}

	s.metrics.AddFound(len(files))

	store := newUploadStore(s.codec)
	var skipped []Skipped
	for i, fh := range files {
		name := filepath.Base(fh.Filename)
		data, err := readUpload(fh)
		if err != nil {
			skipped = append(skipped, Skipped{File: name, Reason: err.Error()})
			continue
		}
		if _, ok := images.SniffFormat(data); !ok {
			skipped = append(skipped, Skipped{File: name, Reason: "only JPEG, PNG and BMP images are accepted"})
			continue
		}
		store.add(strconv.Itoa(i)+"/"+name, name, data)
	}

	archive := newZipWriter(s.codec)
	proc, err := pipeline.NewProcessor(s.session, store, archive, cfg.Pipeline(),
		pipeline.WithLogger(s.logger),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithAugmenter(images.NewAugmenter(cfg.CropSize, s.random)),
	)
	if err != nil {
		return errors.Wrap(err, "create processor")
	}

	ctx := c.Request().Context()
	faces := 0
	for _, up := range store.uploads {
		archive.prefix = up.name
		n, err := proc.ProcessBatch(ctx, []string{up.key})
		switch {
		case err != nil:
			s.logger.WithField("upload", up.name).WithError(err).Error("Failed to process upload")
			skipped = append(skipped, Skipped{File: up.name, Reason: err.Error()})
		case store.failed(up.key) != nil:
			skipped = append(skipped, Skipped{File: up.name, Reason: store.failed(up.key).Error()})
		case n == 0:
			skipped = append(skipped, Skipped{File: up.name, Reason: "no faces detected"})
		}
		faces += n
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if faces == 0 {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "no faces were detected or saved from any image",
			Skipped: skipped,
		})
	}

	body, err := archive.close()
	if err != nil {
		return errors.Wrap(err, "finalize archive")
	}

	names := make([]string, len(skipped))
	for i, sk := range skipped {
		names[i] = sk.File
	}
	h := c.Response().Header()
	h.Set(FacesCountHeader, strconv.Itoa(faces))
	h.Set(SkippedFilesHeader, strings.Join(names, ","))
	h.Set(echo.HeaderContentDisposition, `attachment; filename="face_crops.zip"`)
	return c.Blob(http.StatusOK, "application/zip", body)
}

// requestConfig overlays the conf, iou and jitter query parameters on the
// server defaults.
func (s *Server) requestConfig(c echo.Context) (config.Config, error) {
	cfg := s.cfg
	err := echo.QueryParamsBinder(c).
		Float32("conf", &cfg.ConfidenceThreshold).
		Float32("iou", &cfg.IoUThreshold).
		Int("jitter", &cfg.BrightnessJitter).
		BindError()
	if err != nil {
		return cfg, errors.Wrap(err, "invalid query parameter")
	}
	if err := cfg.ValidateModel(); err != nil {
		return cfg, err
	}
	// Uploads are processed one at a time.
	cfg.Workers = 1
	return cfg, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open upload")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return data, nil
}

type upload struct {
	key  string
	name string
	data []byte
}

// uploadStore serves decoded uploads to the processor by key and remembers
// which ones failed to decode.
type uploadStore struct {
	codec   *images.FileCodec
	uploads []upload
	byKey   map[string][]byte
	mu      sync.Mutex
	errs    map[string]error
}

func newUploadStore(codec *images.FileCodec) *uploadStore {
	return &uploadStore{
		codec: codec,
		byKey: make(map[string][]byte),
		errs:  make(map[string]error),
	}
}

func (u *uploadStore) add(key, name string, data []byte) {
	u.uploads = append(u.uploads, upload{key: key, name: name, data: data})
	u.byKey[key] = data
}

func (u *uploadStore) Load(key string) (image.Image, error) {
	data, ok := u.byKey[key]
	if !ok {
		return nil, errors.Errorf("unknown upload %s", key)
	}
	img, _, err := u.codec.Decode(data)
	if err != nil {
		u.mu.Lock()
		u.errs[key] = err
		u.mu.Unlock()
		return nil, err
	}
	return img, nil
}

func (u *uploadStore) failed(key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.errs[key]
}

// zipWriter adds each encoded crop to an in-memory archive.
type zipWriter struct {
	codec  *images.FileCodec
	prefix string
	mu     sync.Mutex
	buf    bytes.Buffer
	zw     *zip.Writer
}

func newZipWriter(codec *images.FileCodec) *zipWriter {
	w := &zipWriter{codec: codec}
	w.zw = zip.NewWriter(&w.buf)
	return w
}

func (w *zipWriter) Save(img image.Image, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := w.prefix + "_" + filepath.Base(path)
	var encoded bytes.Buffer
	if err := w.codec.Encode(&encoded, img, name); err != nil {
		return err
	}

	entry, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return errors.Wrapf(err, "create archive entry %s", name)
	}
	if _, err := entry.Write(encoded.Bytes()); err != nil {
		return errors.Wrapf(err, "write archive entry %s", name)
	}
	return nil
}

func (w *zipWriter) close() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.zw.Close(); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// Shutdown stops e gracefully, waiting up to timeout for in-flight requests.
func Shutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Shutdown(ctx)
}
