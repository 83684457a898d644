// File: internal/extract/handler_test.go
package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dfalqueto/senafine/internal/config"
	"github.com/dfalqueto/senafine/internal/navigator"
)

// blockDriver serves scripted fine-block texts; every other Driver method
// is inert.
type blockDriver struct {
	blocks   []string
	countErr error
	readErr  map[int]error
}

func (d *blockDriver) Navigate(context.Context, string) error       { return nil }
func (d *blockDriver) WaitReady(context.Context) error              { return nil }
func (d *blockDriver) CurrentURL(context.Context) (string, error)   { return "", nil }
func (d *blockDriver) Text(context.Context, string) (string, error) { return "", nil }
func (d *blockDriver) BodyText(context.Context) (string, error)     { return "", nil }
func (d *blockDriver) Click(context.Context, string) error          { return nil }
func (d *blockDriver) ClickByText(context.Context, string) error    { return nil }
func (d *blockDriver) ClickNth(context.Context, string, int) error  { return nil }
func (d *blockDriver) Evaluate(context.Context, string, any) error  { return nil }
func (d *blockDriver) NavigateBack(context.Context) error           { return nil }
func (d *blockDriver) Reload(context.Context) error                 { return nil }
func (d *blockDriver) NthClickable(context.Context, string, int) (bool, error) {
	return false, nil
}

func (d *blockDriver) Attribute(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (d *blockDriver) WaitVisible(context.Context, string, time.Duration) error {
	return nil
}

func (d *blockDriver) Count(context.Context, string) (int, error) {
	return len(d.blocks), d.countErr
}

func (d *blockDriver) NthText(_ context.Context, _ string, index int) (string, error) {
	if err, ok := d.readErr[index]; ok {
		return "", err
	}
	return d.blocks[index], nil
}

type fakeSaver struct {
	saved [][]FineRecord
	err   error
}

func (s *fakeSaver) SaveFines(_ context.Context, records []FineRecord) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.saved = append(s.saved, records)
	return len(records), nil
}

func testItem() navigator.Item {
	return navigator.Item{Index: 0, Text: "ABC-1234 VOLKSWAGEN GOL 2013"}
}

func TestHandleExtractsAndSaves(t *testing.T) {
	drv := &blockDriver{blocks: []string{
		"Número RENAINF: T1\nValor Original: R$ 100,00",
		"Número RENAINF: T2\nValor Original: R$ 200,00",
	}}
	saver := &fakeSaver{}
	handler := NewHandler(saver, config.NewDefaultConfig(), zap.NewNop())

	require.NoError(t, handler.Handle(context.Background(), drv, testItem()))
	require.Len(t, saver.saved, 1)
	records := saver.saved[0]
	require.Len(t, records, 2)
	assert.Equal(t, "T1", records[0].Renainf)
	assert.Equal(t, "T2", records[1].Renainf)
	assert.Equal(t, "ABC1234", records[0].VehiclePlate)
	assert.Equal(t, records[0].ScrapedAt, records[1].ScrapedAt, "one timestamp per page")
}

func TestHandleSkipsUnparseableBlocks(t *testing.T) {
	drv := &blockDriver{blocks: []string{
		"Valor Original: R$ 100,00",
		"Número RENAINF: T2",
	}}
	saver := &fakeSaver{}
	handler := NewHandler(saver, config.NewDefaultConfig(), zap.NewNop())

	require.NoError(t, handler.Handle(context.Background(), drv, testItem()))
	require.Len(t, saver.saved, 1)
	require.Len(t, saver.saved[0], 1)
	assert.Equal(t, "T2", saver.saved[0][0].Renainf)
}

func TestHandleSkipsUnreadableBlocks(t *testing.T) {
	drv := &blockDriver{
		blocks:  []string{"ignored", "Número RENAINF: T9"},
		readErr: map[int]error{0: errors.New("stale node")},
	}
	saver := &fakeSaver{}
	handler := NewHandler(saver, config.NewDefaultConfig(), zap.NewNop())

	require.NoError(t, handler.Handle(context.Background(), drv, testItem()))
	require.Len(t, saver.saved, 1)
	assert.Equal(t, "T9", saver.saved[0][0].Renainf)
}

func TestHandleAllBlocksUnparseableIsError(t *testing.T) {
	drv := &blockDriver{blocks: []string{"Valor Original: R$ 1,00"}}
	handler := NewHandler(&fakeSaver{}, config.NewDefaultConfig(), zap.NewNop())

	err := handler.Handle(context.Background(), drv, testItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parseable fine records")
}

func TestHandleSaverFailurePropagates(t *testing.T) {
	drv := &blockDriver{blocks: []string{"Número RENAINF: T1"}}
	handler := NewHandler(&fakeSaver{err: errors.New("db down")}, config.NewDefaultConfig(), zap.NewNop())

	err := handler.Handle(context.Background(), drv, testItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestHandleDryRunWithoutSaver(t *testing.T) {
	drv := &blockDriver{blocks: []string{"Número RENAINF: T1"}}
	handler := NewHandler(nil, config.NewDefaultConfig(), zap.NewNop())

	require.NoError(t, handler.Handle(context.Background(), drv, testItem()))
}

func TestHandleCountFailurePropagates(t *testing.T) {
	drv := &blockDriver{countErr: errors.New("target crashed")}
	handler := NewHandler(&fakeSaver{}, config.NewDefaultConfig(), zap.NewNop())

	err := handler.Handle(context.Background(), drv, testItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counting fine blocks")
}
