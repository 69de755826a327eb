package bridges

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/reusee/studyboard/logs"
	"github.com/reusee/studyboard/mirrors"
	"github.com/reusee/studyboard/observers"
	"github.com/reusee/studyboard/protocols"
	"github.com/reusee/studyboard/studies"
	"github.com/reusee/studyboard/transports"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Bridge is the typed host side of the sandbox channel. Every method returns
// a *Error on failure.
type Bridge struct {
	client *transports.Client
	inst   *observers.Instruments
	logger logs.Logger

	lock   sync.Mutex
	loaded bool
	name   string

	closeOnce sync.Once
	onClose   []func() error
	closeErr  error
}

// NewBridge wraps an established channel.
type NewBridge func(conn transports.Conn, onClose ...func() error) *Bridge

func (Module) NewBridge(
	inst *observers.Instruments,
	logger logs.Logger,
) NewBridge {
	return func(conn transports.Conn, onClose ...func() error) *Bridge {
		return &Bridge{
			client:  transports.NewClient(conn, logger),
			inst:    inst,
			logger:  logger,
			onClose: onClose,
		}
	}
}

// Loaded reports whether an archive is loaded and its display name.
func (b *Bridge) Loaded() (bool, string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.loaded, b.name
}

// Done is closed when the channel is gone.
func (b *Bridge) Done() <-chan struct{} {
	return b.client.Done()
}

func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.client.Close()
		for _, fn := range b.onClose {
			if err := fn(); err != nil && b.closeErr == nil {
				b.closeErr = err
			}
		}
	})
	return b.closeErr
}

func (b *Bridge) call(
	ctx context.Context,
	typ string,
	needsArchive bool,
	payload any,
	blob []byte,
	attrs ...attribute.KeyValue,
) (_ *transports.Message, retErr *Error) {
	attrs = append(attrs, observers.AttrRequestType.String(typ))
	ctx, span := b.inst.Tracer.Start(ctx, "sandbox "+typ, trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()

	defer func() {
		status := "ok"
		if retErr != nil {
			status = "error"
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Message)
			span.SetAttributes(observers.AttrErrorKind.String(retErr.Kind.String()))
		}
		b.inst.Calls.Add(ctx, 1, metric.WithAttributes(
			observers.AttrRequestType.String(typ),
			observers.AttrStatus.String(status),
		))
		b.inst.CallDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
			observers.AttrRequestType.String(typ),
		))
	}()

	if needsArchive {
		if loaded, _ := b.Loaded(); !loaded {
			return nil, &Error{
				Kind:    NotLoaded,
				Op:      typ,
				Message: "no archive loaded",
			}
		}
	}

	resp, err := b.client.Call(ctx, typ, payload, blob)
	if err != nil {
		return nil, wrapError(typ, err)
	}
	return resp, nil
}

// decode keeps numbers as json.Number so integers survive the round trip.
func decode[T any](typ string, msg *transports.Message) (ret T, _ *Error) {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return ret, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(msg.Data))
	decoder.UseNumber()
	if err := decoder.Decode(&ret); err != nil {
		return ret, wrapError(typ, fmt.Errorf("%w: %w", transports.ErrBadMessage, err))
	}
	return ret, nil
}

// errOf avoids the typed nil trap when returning *Error as error.
func errOf(err *Error) error {
	if err == nil {
		return nil
	}
	return err
}

// Load replaces the archive in the sandbox. data is handed over to the
// channel and must not be modified afterwards.
func (b *Bridge) Load(ctx context.Context, name string, data []byte) error {
	_, err := b.call(ctx, protocols.TypeLoad, false, protocols.Load{
		Name: name,
	}, data, observers.AttrArchive.String(name))
	if err != nil {
		return err
	}
	b.lock.Lock()
	b.loaded = true
	b.name = name
	b.lock.Unlock()
	b.logger.InfoContext(ctx, "archive loaded", "name", name, "size", len(data))
	return nil
}

// Mount reports whether the mirror was populated by this call.
func (b *Bridge) Mount(ctx context.Context) (bool, error) {
	resp, err := b.call(ctx, protocols.TypeMount, true, nil, nil)
	if err != nil {
		return false, err
	}
	mounted, err := decode[protocols.Mounted](protocols.TypeMount, resp)
	if err != nil {
		return false, err
	}
	return mounted.Mounted, nil
}

func (b *Bridge) Run(ctx context.Context, code string, bindings map[string]any) (any, error) {
	resp, err := b.call(ctx, protocols.TypeRun, false, protocols.Run{
		Code:     code,
		Bindings: bindings,
	}, nil)
	if err != nil {
		return nil, err
	}
	ret, err := decode[any](protocols.TypeRun, resp)
	return ret, errOf(err)
}

func (b *Bridge) ReadFile(ctx context.Context, path string) ([]byte, error) {
	resp, err := b.call(ctx, protocols.TypeRead, false, protocols.Path{
		Path: path,
	}, nil)
	if err != nil {
		return nil, err
	}
	return resp.Blob, nil
}

// WriteFile hands content over to the channel.
func (b *Bridge) WriteFile(ctx context.Context, path string, content []byte) error {
	_, err := b.call(ctx, protocols.TypeWrite, false, protocols.Path{
		Path: path,
	}, content)
	return errOf(err)
}

func (b *Bridge) ListDir(ctx context.Context, path string) ([]protocols.DirEntry, error) {
	resp, err := b.call(ctx, protocols.TypeList, false, protocols.Path{
		Path: path,
	}, nil)
	if err != nil {
		return nil, err
	}
	ret, err := decode[[]protocols.DirEntry](protocols.TypeList, resp)
	return ret, errOf(err)
}

// Remove deletes a file or a directory tree.
func (b *Bridge) Remove(ctx context.Context, path string) error {
	_, err := b.call(ctx, protocols.TypeRemove, false, protocols.Path{
		Path: path,
	}, nil)
	return errOf(err)
}

// Tree returns the tree under path, the mirror root if empty.
func (b *Bridge) Tree(ctx context.Context, path string) (*mirrors.TreeNode, error) {
	resp, err := b.call(ctx, protocols.TypeTree, false, protocols.Path{
		Path: path,
	}, nil)
	if err != nil {
		return nil, err
	}
	ret, err := decode[*mirrors.TreeNode](protocols.TypeTree, resp)
	return ret, errOf(err)
}

// Export serializes the archive with the mirror folded back in. An empty
// name keeps the loaded name.
func (b *Bridge) Export(ctx context.Context, name string) (filename string, data []byte, _ error) {
	resp, err := b.call(ctx, protocols.TypeExport, true, protocols.Export{
		Name: name,
	}, nil)
	if err != nil {
		return "", nil, err
	}
	exported, err := decode[protocols.Exported](protocols.TypeExport, resp)
	if err != nil {
		return "", nil, err
	}
	return exported.Filename, resp.Blob, nil
}

func (b *Bridge) Hierarchy(ctx context.Context) (studies.Hierarchy, error) {
	resp, err := b.call(ctx, protocols.TypeHierarchy, true, nil, nil)
	if err != nil {
		return nil, err
	}
	ret, err := decode[studies.Hierarchy](protocols.TypeHierarchy, resp)
	return ret, errOf(err)
}

// Validate returns the coerced arguments.
func (b *Bridge) Validate(ctx context.Context, studyID string, args map[string]any) (map[string]any, error) {
	resp, err := b.call(ctx, protocols.TypeValidate, true, protocols.Validate{
		StudyID: studyID,
		Args:    args,
	}, nil, observers.AttrStudyID.String(studyID))
	if err != nil {
		return nil, err
	}
	ret, err := decode[map[string]any](protocols.TypeValidate, resp)
	return ret, errOf(err)
}

func (b *Bridge) Start(ctx context.Context, studyID string, args map[string]any) (studies.StartResult, error) {
	resp, err := b.call(ctx, protocols.TypeStart, true, protocols.Start{
		StudyID: studyID,
		Args:    args,
	}, nil, observers.AttrStudyID.String(studyID))
	if err != nil {
		return studies.StartResult{}, err
	}
	ret, err := decode[studies.StartResult](protocols.TypeStart, resp)
	return ret, errOf(err)
}

// Message sends data to a running study. Replies for unknown states are nil.
func (b *Bridge) Message(ctx context.Context, studyID, stateID string, data any) (any, error) {
	var raw json.RawMessage
	if data != nil {
		bs, err := json.Marshal(data)
		if err != nil {
			return nil, wrapError(protocols.TypeMessage, err)
		}
		raw = bs
	}
	resp, err := b.call(ctx, protocols.TypeMessage, true, protocols.Message{
		StudyID: studyID,
		StateID: stateID,
		Data:    raw,
	}, nil,
		observers.AttrStudyID.String(studyID),
		observers.AttrStateID.String(stateID),
	)
	if err != nil {
		return nil, err
	}
	ret, err := decode[any](protocols.TypeMessage, resp)
	return ret, errOf(err)
}

// Subscribe delivers pushes for the pair to handler, in arrival order,
// replacing any earlier handler for the same pair.
func (b *Bridge) Subscribe(studyID, stateID string, handler func(data any)) (detach func()) {
	return b.client.Subscribe(studyID, stateID, func(raw json.RawMessage) {
		var data any
		if len(raw) > 0 {
			decoder := json.NewDecoder(bytes.NewReader(raw))
			decoder.UseNumber()
			if err := decoder.Decode(&data); err != nil {
				b.logger.Warn("bad push data",
					"study", studyID,
					"state", stateID,
					"error", err,
				)
				return
			}
		}
		b.inst.Pushes.Add(context.Background(), 1, metric.WithAttributes(
			observers.AttrStudyID.String(studyID),
		))
		handler(data)
	})
}
