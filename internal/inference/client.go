// Package inference is the client for the remote OCR and classifier service.
// Requests and responses are google.protobuf.Struct messages so the service
// needs no generated stubs on either side.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"

	"github.com/disintegration/imaging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/livetag/internal/classify"
	apperrors "github.com/GriffinCanCode/livetag/internal/errors"
	"github.com/GriffinCanCode/livetag/internal/recognize"
	"github.com/GriffinCanCode/livetag/internal/resilience"
	"github.com/GriffinCanCode/livetag/internal/trace"
)

// Options configures Dial.
type Options struct {
	Addr     string
	Language string

	ModelType string
	ModelPath string
	UseGPU    bool

	Retry resilience.RetryConfig
	// OnBreakerChange observes breaker transitions (metrics).
	OnBreakerChange func(name string, from, to resilience.State)
	DialOptions     []grpc.DialOption
}

// Client wraps one connection to the inference service. It satisfies both
// recognize.Recognizer and classify.Classifier.
type Client struct {
	conn *grpc.ClientConn
	opts Options
	ocr  *resilience.Breaker
	cls  *resilience.Breaker
}

var (
	_ recognize.Recognizer = (*Client)(nil)
	_ classify.Classifier  = (*Client)(nil)
)

// Dial creates a client. The connection is established lazily on first call.
func Dial(opts Options) (*Client, error) {
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = resilience.InferenceRetryConfig()
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
	}, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "inference address %q", opts.Addr)
	}

	c := &Client{
		conn: conn,
		opts: opts,
		ocr:  resilience.New(resilience.InferenceConfig("ocr")),
		cls:  resilience.New(resilience.InferenceConfig("classifier")),
	}
	if opts.OnBreakerChange != nil {
		c.ocr.WithHook(opts.OnBreakerChange)
		c.cls.WithHook(opts.OnBreakerChange)
	}
	return c, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Recognize sends the frame to the remote OCR service.
func (c *Client) Recognize(ctx context.Context, img image.Image) (recognize.Result, error) {
	ctx, span := trace.StartSpan(ctx, "inference.recognize")
	defer span.EndAndLog(ctx)

	req, err := c.request(img, map[string]any{"language": c.opts.Language})
	if err != nil {
		return recognize.Result{}, apperrors.Wrap(err, apperrors.OCRFailed, "build recognize request")
	}
	resp, err := c.invoke(ctx, c.ocr, MethodRecognize, req)
	if err != nil {
		return recognize.Result{}, remoteError(err, apperrors.OCRFailed, "remote recognize")
	}
	return decodeLines(resp), nil
}

// Classify asks the remote classifier for a style label.
func (c *Client) Classify(ctx context.Context, img image.Image) (classify.Result, error) {
	ctx, span := trace.StartSpan(ctx, "inference.classify")
	defer span.EndAndLog(ctx)

	req, err := c.request(img, map[string]any{
		"model_type": c.opts.ModelType,
		"model_path": c.opts.ModelPath,
		"use_gpu":    c.opts.UseGPU,
	})
	if err != nil {
		return classify.Result{}, apperrors.Wrap(err, apperrors.ClassifyFailed, "build classify request")
	}
	resp, err := c.invoke(ctx, c.cls, MethodClassify, req)
	if err != nil {
		return classify.Result{}, remoteError(err, apperrors.ClassifyFailed, "remote classify")
	}

	fields := resp.GetFields()
	res := classify.Result{
		Label:      fields["label"].GetStringValue(),
		Confidence: fields["confidence"].GetNumberValue(),
		Model:      fields["model"].GetStringValue(),
	}
	if res.Model == "" {
		res.Model = c.opts.ModelType
	}
	return res, nil
}

func (c *Client) invoke(ctx context.Context, b *resilience.Breaker, method string, req *structpb.Struct) (*structpb.Struct, error) {
	return resilience.Call(ctx, b, c.opts.Retry, func(ctx context.Context) (*structpb.Struct, error) {
		resp := &structpb.Struct{}
		if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
}

func (c *Client) request(img image.Image, extra map[string]any) (*structpb.Struct, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	fields := map[string]any{
		"image":  base64.StdEncoding.EncodeToString(buf.Bytes()),
		"format": "png",
	}
	for k, v := range extra {
		fields[k] = v
	}
	return structpb.NewStruct(fields)
}

// decodeLines reads {"lines": [{"text": ..., "confidence": ...}]}. A missing
// confidence is reported as unknown.
func decodeLines(resp *structpb.Struct) recognize.Result {
	items := resp.GetFields()["lines"].GetListValue().GetValues()
	lines := make([]recognize.Line, 0, len(items))
	for _, item := range items {
		f := item.GetStructValue().GetFields()
		conf := -1.0
		if v, ok := f["confidence"]; ok {
			conf = v.GetNumberValue()
		}
		lines = append(lines, recognize.Line{Text: f["text"].GetStringValue(), Confidence: conf})
	}
	return recognize.Result{Lines: lines}
}

func remoteError(err error, code apperrors.Code, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	appErr := apperrors.Wrap(err, code, msg)
	if errors.Is(err, resilience.ErrOpen) {
		return appErr.WithMetadata("breaker", "open")
	}
	if s, ok := status.FromError(err); ok {
		appErr.WithMetadata("grpc_code", s.Code().String())
	}
	return appErr
}
