package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cardbatch/internal/aggregate"
	"cardbatch/internal/checkpoint"
	"cardbatch/internal/fixedwidth"
	"cardbatch/internal/report"
	"cardbatch/internal/source"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refundSchema = fixedwidth.MustSchema("refund", 80,
	fixedwidth.Field{Name: "code", Start: 1, End: 3, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "amt", Start: 4, End: 15, Kind: fixedwidth.Packed, Scale: 2},
	fixedwidth.Field{Name: "account", Start: 16, End: 21, Kind: fixedwidth.Zoned, Sign: fixedwidth.SignNone},
	fixedwidth.Field{Name: "date", Start: 22, End: 29, Kind: fixedwidth.Text},
)

var fixedNow = time.Date(2025, 2, 1, 6, 30, 0, 0, time.UTC)

func testDefinition() *Definition {
	return &Definition{
		Name:   "refund-test",
		Schema: refundSchema,
		Key: checkpoint.KeyLayout{Name: "refund", Parts: []checkpoint.KeyPart{
			{Field: "code", Width: 3},
			{Field: "account", Width: 6, Numeric: true},
		}},
		Levels: []string{"type", "account"},
		Entry: func(rec fixedwidth.Record) (aggregate.Entry, error) {
			date, err := rec.Date("date")
			if err != nil {
				return aggregate.Entry{}, err
			}
			return aggregate.Entry{
				Keys:     []string{rec.Text("code"), fmt.Sprintf("%06d", rec.Int("account"))},
				Category: "REFUND",
				Date:     date,
				Amount:   rec.Decimal("amt"),
			}, nil
		},
		Detail: func(rec fixedwidth.Record, e aggregate.Entry) string {
			return fmt.Sprintf("%-3s %s %s %s", e.Keys[0], e.Keys[1], rec.Text("date"),
				fixedwidth.EditAmount(e.Amount, 16, 2))
		},
		Report:  report.Layout{ReportID: "RFD0100", Title: "REFUND AGING", PageLines: 20},
		Control: controlSpec,
		Branches: map[string]Branch{
			"W": {Name: "weekly"},
			"M": {Name: "monthly", Title: "MONTHLY REFUND AGING"},
		},
		Extract: &ExtractSpec{Level: 1},
	}
}

func card(code string, account int, cents int64, date string) string {
	sign := " "
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%-3s%011d%s%06d%s", code, cents, sign, account, date)
}

var tenRecords = []string{
	card("RET", 1, 10000, "20250130"),
	card("RET", 1, 2550, "20241201"),
	card("RET", 2, -500, "20250101"),
	card("RET", 3, 12345, "20240915"),
	card("RET", 3, 100, "20250116"),
	card("UND", 1, 9999, "20250115"),
	card("UND", 2, 1, "20241031"),
	card("UND", 2, 2, "20241030"),
	card("UND", 4, 70000, "20250131"),
	card("UND", 5, 123456, "20230101"),
}

type fixture struct {
	dir   string
	store checkpoint.Store
	input string
	out   Outputs
}

func newFixture(t *testing.T, lines []string) *fixture {
	t.Helper()

	dir := t.TempDir()
	store, err := checkpoint.NewFileStore(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)

	input := filepath.Join(dir, "refunds.dat")
	require.NoError(t, os.WriteFile(input, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	return &fixture{
		dir:   dir,
		store: store,
		input: input,
		out: Outputs{
			Report:  filepath.Join(dir, "out", "report.txt"),
			Extract: filepath.Join(dir, "out", "extract.dat"),
			XLSX:    filepath.Join(dir, "out", "extract.xlsx"),
		},
	}
}

func (f *fixture) run(t *testing.T, ctx context.Context, params Params, wrap func(source.Source) source.Source, opts ...Option) (Result, error) {
	t.Helper()

	src, err := source.OpenFile(f.input)
	require.NoError(t, err)
	defer src.Close()

	var in source.Source = src
	if wrap != nil {
		in = wrap(src)
	}

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewRunner(testDefinition(), f.store, nil, opts...).Run(ctx, params, in, f.out)
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func weekly(interval int) Params {
	return Params{ControlCard: "W20250131EST", CommitInterval: interval}
}

type recorder struct {
	Observers
	chunks   []int64
	groups   map[string]int
	finished []Outcome
}

func newRecorder() *recorder {
	return &recorder{groups: map[string]int{}}
}

func (r *recorder) ChunkCommitted(_ string, n int64, _ time.Duration) { r.chunks = append(r.chunks, n) }
func (r *recorder) GroupClosed(_, level string)                      { r.groups[level]++ }
func (r *recorder) RunFinished(_ string, o Outcome)                  { r.finished = append(r.finished, o) }

// cancelAfter cancels the run once n lines have been handed out
type cancelAfter struct {
	source.Source
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Next(ctx context.Context) (string, error) {
	if c.n == 0 {
		c.cancel()
	}
	c.n--
	return c.Source.Next(ctx)
}

func TestRun_Scenario(t *testing.T) {
	t.Parallel()

	// the amount columns of each line are the 80-byte scenario record
	// "RET00000012345" + 66 spaces, with account and date filled in
	line := func(code string) string {
		return code + "00000012345" + " " + "000000" + "20250120" + strings.Repeat(" ", 51)
	}
	f := newFixture(t, []string{line("RET"), line("RET"), line("UND")})

	rec := newRecorder()
	res, err := f.run(t, context.Background(), weekly(100), nil, WithObserver(rec))
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, "weekly", res.Branch)
	assert.Equal(t, int64(3), res.Stats.Processed)
	assert.Equal(t, []Outcome{Completed}, rec.finished)
	assert.Equal(t, 2, rec.groups["type"])
	assert.Equal(t, 2, rec.groups["account"])

	text := f.read(t, f.out.Report)
	ret := strings.Index(text, "*** TOTAL TYPE RET")
	und := strings.Index(text, "UND 000000")
	require.NotEqual(t, -1, ret)
	require.NotEqual(t, -1, und)
	assert.Less(t, ret, und, "RET subtotal precedes the first UND detail")

	block := text[ret:]
	totalLine := block[strings.Index(block, "    TOTAL TYPE"):]
	totalLine = totalLine[:strings.Index(totalLine, "\n")]
	assert.Contains(t, totalLine, "246.90")
	assert.Contains(t, strings.Fields(totalLine), "2")

	assert.Contains(t, text, "WEEKLY RUN AS OF 2025-01-31")
	assert.Contains(t, text, "*** END OF REPORT RFD0100 ***")
	assert.FileExists(t, f.out.XLSX)

	state, err := f.store.Load(context.Background(), "refund-test")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, state.Status)
	assert.Empty(t, state.Watermark)
}

func TestRun_RestartIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	whole := newFixture(t, tenRecords)
	res, err := whole.run(t, ctx, weekly(2), nil)
	require.NoError(t, err)
	require.Equal(t, Completed, res.Outcome)
	wantReport := whole.read(t, whole.out.Report)
	wantExtract := whole.read(t, whole.out.Extract)

	t.Run("run limit", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, tenRecords)

		params := weekly(2)
		params.RunLimit = 4
		first, err := f.run(t, ctx, params, nil)
		require.NoError(t, err)
		assert.Equal(t, Incomplete, first.Outcome)
		assert.Equal(t, "RET000003", first.Stats.Watermark)

		second, err := f.run(t, ctx, weekly(2), nil)
		require.NoError(t, err)
		assert.Equal(t, Completed, second.Outcome)
		assert.True(t, second.Resumed)
		assert.Equal(t, int64(5), second.Stats.Skipped)
		assert.Equal(t, int64(5), second.Stats.Processed)

		assert.Equal(t, wantReport, f.read(t, f.out.Report))
		assert.Equal(t, wantExtract, f.read(t, f.out.Extract))
	})

	for _, cut := range []int{1, 3, 6, 9} {
		cut := cut
		t.Run(fmt.Sprintf("crash after %d reads", cut), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tenRecords)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			first, err := f.run(t, runCtx, weekly(2), func(s source.Source) source.Source {
				return &cancelAfter{Source: s, n: cut, cancel: cancel}
			})
			require.NoError(t, err)
			assert.Equal(t, Incomplete, first.Outcome)

			second, err := f.run(t, ctx, weekly(2), nil)
			require.NoError(t, err)
			assert.Equal(t, Completed, second.Outcome)
			assert.Equal(t, countCommitted(first), second.Stats.Skipped)
			assert.Equal(t, int64(10), second.Stats.Skipped+second.Stats.Processed)

			assert.Equal(t, wantReport, f.read(t, f.out.Report))
			assert.Equal(t, wantExtract, f.read(t, f.out.Extract))
		})
	}
}

// countCommitted is how many of a stopped run's records were covered by
// its last commit
func countCommitted(r Result) int64 {
	committed := int64(0)
	for _, l := range tenRecords {
		if r.Stats.Watermark != "" && l[:3]+l[15:21] <= r.Stats.Watermark {
			committed++
		}
	}
	return committed
}

func TestRun_ChunkNeverSplitsKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, tenRecords)
	rec := newRecorder()

	res, err := f.run(t, context.Background(), weekly(1), nil, WithObserver(rec))
	require.NoError(t, err)
	require.Equal(t, Completed, res.Outcome)

	// keys: RET1 x2, RET2, RET3 x2, UND1, UND2 x2, UND4; UND5 is finalized
	assert.Equal(t, []int64{2, 1, 2, 1, 2, 1}, rec.chunks)
}

func TestRun_OutOfOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []string{
		card("UND", 1, 100, "20250101"),
		card("RET", 1, 100, "20250101"),
	})

	res, err := f.run(t, context.Background(), weekly(10), nil)
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, res.Error, "refund-test")
}

func TestRun_MalformedKeyAborts(t *testing.T) {
	t.Parallel()

	bad := card("RET", 1, 100, "20250101")
	bad = bad[:15] + "00X001" + bad[21:]
	f := newFixture(t, []string{card("RET", 1, 100, "20250101"), bad})

	res, err := f.run(t, context.Background(), weekly(10), nil)
	assert.ErrorIs(t, err, fixedwidth.ErrMalformedRecord)
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, err.Error(), "refund-test")
	assert.Contains(t, err.Error(), "account")
	assert.Contains(t, err.Error(), "00X001")
}

func TestRun_MalformedAmountCounted(t *testing.T) {
	t.Parallel()

	bad := card("RET", 2, 100, "20250101")
	bad = bad[:3] + "0000000ABC00" + bad[15:]
	f := newFixture(t, []string{card("RET", 1, 100, "20250101"), bad, bad})

	res, err := f.run(t, context.Background(), weekly(10), nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, int64(2), res.Stats.Malformed)

	text := f.read(t, f.out.Report)
	assert.Contains(t, text, "*** EXCEPTIONS ***")
	assert.NotContains(t, text, "NO EXCEPTIONS")

	lines := strings.Split(text, "\n")
	var exc string
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "amt") {
			exc = l
		}
	}
	require.NotEmpty(t, exc)
	assert.Equal(t, "2", strings.Fields(exc)[len(strings.Fields(exc))-1])
}

func TestRun_InvalidControlCardOpensNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, tenRecords)
	params := weekly(10)
	params.ControlCard = "W2025013XEST"

	res, err := f.run(t, context.Background(), params, nil)
	assert.ErrorIs(t, err, ErrInvalidControlCard)
	assert.Equal(t, Failed, res.Outcome)
	assert.NoFileExists(t, f.out.Report)
}

func TestRun_UnknownFrequency(t *testing.T) {
	t.Parallel()

	def := testDefinition()
	def.Control.Codes = nil

	f := newFixture(t, tenRecords)
	src, err := source.OpenFile(f.input)
	require.NoError(t, err)
	defer src.Close()

	res, err := NewRunner(def, f.store, nil).Run(context.Background(), Params{ControlCard: "Q20250131EST"}, src, f.out)
	assert.ErrorIs(t, err, ErrUnknownFrequency)
	assert.Equal(t, Failed, res.Outcome)
	assert.NoFileExists(t, f.out.Report)
}

func TestRun_ResumeWithDifferentAsOfFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, tenRecords)

	params := weekly(2)
	params.RunLimit = 2
	first, err := f.run(t, ctx, params, nil)
	require.NoError(t, err)
	require.Equal(t, Incomplete, first.Outcome)

	params = weekly(2)
	params.ControlCard = "W20250228EST"
	_, err = f.run(t, ctx, params, nil)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointMismatch)
}

func TestRun_SeedSkipsLeadingKeys(t *testing.T) {
	t.Parallel()

	f := newFixture(t, tenRecords)
	params := weekly(100)
	params.Seed = "RET000003"

	res, err := f.run(t, context.Background(), params, nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, int64(5), res.Stats.Skipped)
	assert.Equal(t, int64(5), res.Stats.Processed)
	assert.NotContains(t, f.read(t, f.out.Report), "TOTAL TYPE RET")
}

func TestRun_MonthlyBranchTitle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, tenRecords[:2])
	params := weekly(10)
	params.ControlCard = "M20250131EST"

	res, err := f.run(t, context.Background(), params, nil)
	require.NoError(t, err)
	assert.Equal(t, "monthly", res.Branch)
	assert.Contains(t, f.read(t, f.out.Report), "MONTHLY REFUND AGING")
}

func TestRun_GrandTotalMatchesInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, tenRecords)
	_, err := f.run(t, context.Background(), weekly(3), nil)
	require.NoError(t, err)

	want := decimal.Zero
	for _, l := range tenRecords {
		rec, err := fixedwidth.Decode(refundSchema, l)
		require.NoError(t, err)
		want = want.Add(rec.Decimal("amt"))
	}

	text := f.read(t, f.out.Report)
	grand := text[strings.Index(text, "    GRAND TOTAL"):]
	grand = grand[:strings.Index(grand, "\n")]
	assert.Contains(t, grand, strings.TrimRight(fixedwidth.EditAmount(want, 20, 2), " "))
	assert.Contains(t, strings.Fields(grand), "10")
}
