package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

const clientTimeout = 30 * time.Second

// apiClient talks to the daemon HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: clientTimeout},
	}
}

// do sends body as JSON and decodes a successful reply into out. Failure replies are
// turned back into classified errors.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.WrapError(err, errors.CategoryInternal, "encode request").Build()
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "invalid server url").Build()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "daemon unreachable").
			WithContext("server", c.base).Retryable().Build()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "read response").Build()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeFailure(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "decode response").Build()
	}
	return nil
}

func decodeFailure(status int, data []byte) error {
	var failure errors.HTTPErrorResponse
	if err := json.Unmarshal(data, &failure); err != nil || failure.ErrorText == "" {
		return errors.RuntimeError(fmt.Sprintf("daemon returned %d", status)).Build()
	}
	category := errors.ErrorCategory(failure.ErrorCode)
	if category == "" {
		category = errors.CategoryRuntime
	}
	b := errors.NewError(category, failure.ErrorText)
	for k, v := range failure.Details {
		b = b.WithContext(k, v)
	}
	return b.Build()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseArgValue reads a command-line value as JSON, falling back to a plain string.
func parseArgValue(raw string) value.Value {
	if v, err := value.ParseString(raw); err == nil {
		return v
	}
	return value.String(raw)
}

// GetCmd implements the 'get' command.
type GetCmd struct {
	Keys []string `arg:"" help:"Preference keys to read"`
}

func (c *GetCmd) Run(g *Global, root *CLI) error {
	client := newAPIClient(root.Server)
	ctx := context.Background()
	if len(c.Keys) == 1 {
		var resp responses.GetResponse
		if err := client.do(ctx, http.MethodGet, "/v1/preferences/"+url.PathEscape(c.Keys[0]), nil, &resp); err != nil {
			return err
		}
		return printJSON(g.Out, resp.Value)
	}
	var resp responses.GetManyResponse
	q := url.Values{"keys": {strings.Join(c.Keys, ",")}}
	if err := client.do(ctx, http.MethodGet, "/v1/preferences?"+q.Encode(), nil, &resp); err != nil {
		return err
	}
	return printJSON(g.Out, resp)
}

// SetCmd implements the 'set' command.
type SetCmd struct {
	Key    string `arg:"" help:"Preference key"`
	Value  string `arg:"" help:"New value, as JSON or a plain string"`
	Origin string `help:"Origin reported to the daemon" default:"local"`
}

func (c *SetCmd) Run(g *Global, root *CLI) error {
	raw, err := json.Marshal(parseArgValue(c.Value))
	if err != nil {
		return errors.ValidationError("value cannot be encoded").WithContext("key", c.Key).WithCause(err).Build()
	}
	req := responses.SetRequest{Key: c.Key, Value: raw, Origin: c.Origin}
	var resp responses.SuccessResponse
	if err := newAPIClient(root.Server).do(context.Background(), http.MethodPost, "/v1/preferences", req, &resp); err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "%s updated\n", c.Key)
	return nil
}

// RestoreCmd implements the 'restore' command.
type RestoreCmd struct {
	Key string `arg:"" help:"Recoverable preference key"`
}

func (c *RestoreCmd) Run(g *Global, root *CLI) error {
	var resp responses.RestoreResponse
	path := "/v1/restore/" + url.PathEscape(c.Key)
	if err := newAPIClient(root.Server).do(context.Background(), http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	return printJSON(g.Out, resp)
}

// SweepCmd implements the 'sweep' command.
type SweepCmd struct {
	DryRun bool `help:"Only report consistency, do not restore"`
}

func (c *SweepCmd) Run(g *Global, root *CLI) error {
	client := newAPIClient(root.Server)
	if c.DryRun {
		var resp responses.ConsistencyResponse
		if err := client.do(context.Background(), http.MethodGet, "/v1/consistency", nil, &resp); err != nil {
			return err
		}
		return printJSON(g.Out, resp)
	}
	var resp responses.SweepResponse
	if err := client.do(context.Background(), http.MethodPost, "/v1/consistency/sweep", nil, &resp); err != nil {
		return err
	}
	return printJSON(g.Out, resp)
}

// StatusCmd implements the 'status' command.
type StatusCmd struct{}

func (c *StatusCmd) Run(g *Global, root *CLI) error {
	var resp responses.StorageModeResponse
	if err := newAPIClient(root.Server).do(context.Background(), http.MethodGet, "/v1/storage-mode", nil, &resp); err != nil {
		return err
	}
	return printJSON(g.Out, resp)
}

// EraseCmd implements the 'erase' command.
type EraseCmd struct {
	Type string `arg:"" help:"Erase type (var, all, media, developer, wipe)"`
	Yes  bool   `short:"y" help:"Confirm the erase request"`
}

func (c *EraseCmd) Run(g *Global, root *CLI) error {
	if !c.Yes {
		return errors.ValidationError("erase requires --yes").Build()
	}
	path := "/v1/erase/" + url.PathEscape(c.Type)
	if err := newAPIClient(root.Server).do(context.Background(), http.MethodPost, path, nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "%s erase scheduled\n", c.Type)
	return nil
}

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Key   string `arg:"" optional:"" help:"Preference key, or storage-mode; all records when empty"`
	Limit int    `short:"n" help:"Newest records to show for a key" default:"20"`
	Since string `help:"Only records after this RFC 3339 time (without a key)"`
}

func (c *HistoryCmd) Run(g *Global, root *CLI) error {
	var resp responses.HistoryResponse
	path := "/v1/history"
	if c.Key != "" {
		path += "/" + url.PathEscape(c.Key) + "?limit=" + strconv.Itoa(c.Limit)
	} else if c.Since != "" {
		path += "?" + url.Values{"since": {c.Since}}.Encode()
	}
	if err := newAPIClient(root.Server).do(context.Background(), http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	return printJSON(g.Out, resp.Records)
}
