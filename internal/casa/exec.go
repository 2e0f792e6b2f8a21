package casa

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ExecConfig configures the shim-process gateway.
type ExecConfig struct {
	// ShimPath is the executable bridging into the CASA environment. It is
	// invoked once per call as `shim <op>` with a JSON request on stdin and
	// must print a JSON reply envelope on stdout.
	ShimPath string
	// WorkDir is the directory the shim runs in; vis/caltable paths in
	// requests are relative to it.
	WorkDir string
	Logger  *zap.Logger
	// ReplyCache, when set, caches msmd replies on disk so repeated
	// metadata queries for an unchanged MS skip the shim round trip.
	ReplyCache *ReplyCache
}

// ExecGateway delegates every call to an external CASA shim process.
type ExecGateway struct {
	shim    string
	workDir string
	log     *zap.Logger
	cache   *ReplyCache
}

// NewExecGateway validates the shim path and builds the gateway.
func NewExecGateway(cfg ExecConfig) (*ExecGateway, error) {
	if cfg.ShimPath == "" {
		return nil, errors.New("casa: shim path is required")
	}
	if _, err := os.Stat(cfg.ShimPath); err != nil {
		return nil, fmt.Errorf("casa: shim not found: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecGateway{
		shim:    cfg.ShimPath,
		workDir: cfg.WorkDir,
		log:     logger,
		cache:   cfg.ReplyCache,
	}, nil
}

// envelope is the shim reply framing. Errors cross the boundary as strings
// and are surfaced unmodified.
type envelope struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (g *ExecGateway) call(ctx context.Context, op string, req, reply any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("casa: encode %s request: %w", op, err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.shim, op)
	cmd.Dir = g.workDir
	cmd.Stdin = bytes.NewReader(body)
	out, err := cmd.Output()
	g.log.Debug("casa call",
		zap.String("op", op),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("failed", err != nil))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return fmt.Errorf("casa: %s: %s", op, bytes.TrimSpace(exitErr.Stderr))
		}
		return fmt.Errorf("casa: %s: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return fmt.Errorf("casa: decode %s reply: %w", op, err)
	}
	if !env.OK {
		return fmt.Errorf("casa: %s: %s", op, env.Error)
	}
	if reply != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, reply); err != nil {
			return fmt.Errorf("casa: decode %s result: %w", op, err)
		}
	}
	return nil
}

// metadataKey builds a cache key that changes whenever the MS changes on
// disk, so stale mirrors are never served after a re-import or flagging run.
func (g *ExecGateway) metadataKey(req MSMetadataRequest) string {
	h := sha256.New()
	h.Write([]byte("msmd\x00" + req.Vis))
	if info, err := os.Stat(filepath.Join(g.workDir, req.Vis)); err == nil {
		fmt.Fprintf(h, "\x00%d\x00%d", info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (g *ExecGateway) MSMetadata(ctx context.Context, req MSMetadataRequest) (MSMetadataReply, error) {
	var reply MSMetadataReply
	key := ""
	if g.cache != nil {
		key = g.metadataKey(req)
		if raw, ok, err := g.cache.Get(key); err == nil && ok {
			if json.Unmarshal(raw, &reply) == nil {
				return reply, nil
			}
		}
	}
	if err := g.call(ctx, "msmd", req, &reply); err != nil {
		return MSMetadataReply{}, err
	}
	if g.cache != nil {
		if raw, err := json.Marshal(reply); err == nil {
			_ = g.cache.Set(key, raw)
		}
	}
	return reply, nil
}

func (g *ExecGateway) Flagdata(ctx context.Context, req FlagdataRequest) (FlagdataReply, error) {
	var reply FlagdataReply
	err := g.call(ctx, "flagdata", req, &reply)
	return reply, err
}

func (g *ExecGateway) Bandpass(ctx context.Context, req BandpassRequest) (BandpassReply, error) {
	var reply BandpassReply
	err := g.call(ctx, "bandpass", req, &reply)
	return reply, err
}

func (g *ExecGateway) Gaincal(ctx context.Context, req GaincalRequest) (GaincalReply, error) {
	var reply GaincalReply
	err := g.call(ctx, "gaincal", req, &reply)
	return reply, err
}

func (g *ExecGateway) Fluxscale(ctx context.Context, req FluxscaleRequest) (FluxscaleReply, error) {
	var reply FluxscaleReply
	err := g.call(ctx, "fluxscale", req, &reply)
	return reply, err
}

func (g *ExecGateway) Tsyscal(ctx context.Context, req TsyscalRequest) (TsyscalReply, error) {
	var reply TsyscalReply
	err := g.call(ctx, "tsyscal", req, &reply)
	return reply, err
}

func (g *ExecGateway) Applycal(ctx context.Context, req ApplycalRequest) (ApplycalReply, error) {
	var reply ApplycalReply
	err := g.call(ctx, "applycal", req, &reply)
	return reply, err
}

func (g *ExecGateway) Split(ctx context.Context, req SplitRequest) (SplitReply, error) {
	var reply SplitReply
	err := g.call(ctx, "split", req, &reply)
	return reply, err
}

func (g *ExecGateway) Tclean(ctx context.Context, req TcleanRequest) (TcleanReply, error) {
	var reply TcleanReply
	err := g.call(ctx, "tclean", req, &reply)
	return reply, err
}

func (g *ExecGateway) Exportfits(ctx context.Context, req ExportfitsRequest) (ExportfitsReply, error) {
	var reply ExportfitsReply
	err := g.call(ctx, "exportfits", req, &reply)
	return reply, err
}
