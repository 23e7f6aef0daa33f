package upload

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultGRPCService is the collector service that owns the Heartbeat and
// Capture unary methods.
const DefaultGRPCService = "/telemetry.v1.Collector/"

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type GRPCConfig struct {
	Addr      string
	TLSConfig *tls.Config
	Service   string
	DialOpts  []grpc.DialOption
}

// GRPCTransport sends each payload as a unary call with a JSON codec.
type GRPCTransport struct {
	mu sync.Mutex

	logger   *slog.Logger
	addr     string
	tls      *tls.Config
	service  string
	dialOpts []grpc.DialOption
	conn     *grpc.ClientConn
}

func NewGRPCTransport(cfg GRPCConfig, logger *slog.Logger) *GRPCTransport {
	encoding.RegisterCodec(jsonCodec{})
	svc := cfg.Service
	if svc == "" {
		svc = DefaultGRPCService
	}
	return &GRPCTransport{
		logger:   logger,
		addr:     cfg.Addr,
		tls:      cfg.TLSConfig,
		service:  svc,
		dialOpts: cfg.DialOpts,
	}
}

func (t *GRPCTransport) Post(ctx context.Context, req Request) (Response, error) {
	conn, err := t.ensureConn()
	if err != nil {
		return Response{}, err
	}

	md := metadata.Pairs(
		"x-device-id", req.DeviceID,
		"x-request-id", req.RequestID,
	)
	if req.Token != "" {
		md.Append("authorization", "Bearer "+req.Token)
	}
	callCtx := metadata.NewOutgoingContext(ctx, md)

	in := json.RawMessage(req.Body)
	var out json.RawMessage
	var header metadata.MD
	err = conn.Invoke(callCtx, t.service+methodName(req.Kind), &in, &out,
		grpc.ForceCodec(jsonCodec{}), grpc.Header(&header))

	st, ok := status.FromError(err)
	if !ok {
		return Response{}, fmt.Errorf("grpc %s: %w", req.Kind, err)
	}
	if err != nil && (st.Code() == codes.Canceled || ctx.Err() != nil) {
		return Response{}, fmt.Errorf("grpc %s: %w", req.Kind, err)
	}
	resp := Response{Status: httpStatus(st.Code()), Body: out}
	if v := header.Get("retry-after"); len(v) > 0 {
		resp.RetryAfter = v[0]
	}
	return resp, nil
}

func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *GRPCTransport) ensureConn() (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}

	var creds credentials.TransportCredentials
	if t.tls != nil {
		creds = credentials.NewTLS(t.tls)
	} else {
		creds = insecure.NewCredentials()
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	}, t.dialOpts...)

	conn, err := grpc.NewClient(t.addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", t.addr, err)
	}
	t.conn = conn
	if t.logger != nil {
		t.logger.Info("grpc upload channel ready", "addr", t.addr)
	}
	return conn, nil
}

func methodName(kind string) string {
	switch kind {
	case "heartbeat":
		return "Heartbeat"
	case "capture":
		return "Capture"
	default:
		return kind
	}
}

// httpStatus folds gRPC codes onto the HTTP statuses Classify understands.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.Unknown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
