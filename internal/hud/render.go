package hud

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/Bidon15/popsigner/popfleet/internal/chain"
)

const (
	// columnGap separates the two columns.
	columnGap = 2
	// minBoxWidth keeps a box drawable on very narrow terminals.
	minBoxWidth = 14
	// defaultWidth is used when the terminal size is unknown.
	defaultWidth = 120
)

// widths measures display columns independently of the locale.
var widths = &runewidth.Condition{EastAsianWidth: false, StrictEmojiNeutral: true}

// Options controls dashboard layout and styling.
type Options struct {
	FullAddr       bool
	FullHash       bool
	MaxBoxWidth    int
	MinColumnWidth int
	Refresh        time.Duration
	Banner         string
	BannerColor    string
	BorderColor    string

	// Color enables ANSI styling.
	Color bool
}

func (o *Options) setDefaults() {
	if o.MaxBoxWidth <= 0 {
		o.MaxBoxWidth = 90
	}
	if o.MinColumnWidth <= 0 {
		o.MinColumnWidth = 36
	}
	if o.MinColumnWidth < minBoxWidth {
		o.MinColumnWidth = minBoxWidth
	}
	if o.Refresh <= 0 {
		o.Refresh = 700 * time.Millisecond
	}
	if o.BannerColor == "" {
		o.BannerColor = "magenta"
	}
	if o.BorderColor == "" {
		o.BorderColor = "green"
	}
}

// styles holds the colors used by one renderer.
type styles struct {
	border  *color.Color
	banner  *color.Color
	heading *color.Color
	title   *color.Color
	dim     *color.Color
}

func newStyles(o Options) styles {
	s := styles{
		border:  namedColor(o.BorderColor, color.FgGreen),
		banner:  namedColor(o.BannerColor, color.FgMagenta),
		heading: color.New(color.FgCyan),
		title:   color.New(color.Bold),
		dim:     color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{s.border, s.banner, s.heading, s.title, s.dim} {
		if o.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{6})$`)

var colorNames = map[string]color.Attribute{
	"black":   color.FgBlack,
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
	"gray":    color.FgHiBlack,
	"grey":    color.FgHiBlack,
}

// namedColor resolves a color name or #rrggbb value, falling back to def.
func namedColor(name string, def color.Attribute) *color.Color {
	if m := hexColor.FindStringSubmatch(name); m != nil {
		v, _ := strconv.ParseUint(m[1], 16, 32)
		return color.RGB(int(v>>16&0xff), int(v>>8&0xff), int(v&0xff))
	}
	if attr, ok := colorNames[strings.ToLower(name)]; ok {
		return color.New(attr)
	}
	return color.New(def)
}

// frame renders a snapshot at a given terminal width.
type frame struct {
	opts   Options
	styles styles
}

// twoColumns reports whether width fits two columns of the minimum width.
func twoColumns(width, minColumn int) bool {
	return (width-columnGap)/2 >= minColumn
}

func (f *frame) render(snap Snapshot, width int) string {
	if width <= 0 {
		width = defaultWidth
	}

	head := f.header(snap.Header, width)

	if !twoColumns(width, f.opts.MinColumnWidth) {
		w := max(minBoxWidth, min(width-2, f.opts.MaxBoxWidth))
		left := f.box(snap.Slots[0], w)
		right := f.box(snap.Slots[1], w)
		return head + "\n\n" + strings.Join(left, "\n") + "\n\n" + strings.Join(right, "\n")
	}

	half := (width - columnGap) / 2
	w := max(f.opts.MinColumnWidth, min(f.opts.MaxBoxWidth, half))
	left := f.box(snap.Slots[0], w)
	right := f.box(snap.Slots[1], w)
	return head + "\n\n" + strings.Join(joinSideBySide(left, right, w, columnGap), "\n")
}

// header centers "Round r   Batch b" between rule characters.
func (f *frame) header(h Header, width int) string {
	plain := "Round " + h.Round + "   Batch " + h.Batch
	bar := max(0, (width-widths.StringWidth(plain))/2-1)
	rule := strings.Repeat("—", bar)
	styled := f.styles.heading.Sprint("Round "+h.Round) + "   " + f.styles.heading.Sprint("Batch "+h.Batch)
	return rule + " " + styled + " " + rule
}

func (f *frame) view(s string, full bool, empty string) string {
	if s == "" {
		return empty
	}
	if full {
		return s
	}
	return chain.Short(s)
}

// box draws a slot as a rounded box of exactly width columns.
func (f *frame) box(s Slot, width int) []string {
	inner := width - 4

	addr := f.view(s.Address, f.opts.FullAddr, "-")
	l1 := f.view(s.L1Ref, f.opts.FullHash, "--")
	l2 := f.view(s.L2Ref, f.opts.FullHash, "--")

	var body []styledLine
	body = append(body, styledLine{
		text:  s.Title + "  " + addr,
		style: func(string) string { return f.styles.title.Sprint(s.Title) + "  " + f.styles.dim.Sprint(addr) },
	})
	if s.Position != "" {
		body = append(body, plainLine("• Wallet : "+s.Position))
	}
	body = append(body,
		plainLine("• Phase  : "+s.Phase.String()),
		plainLine("• L1     : "+l1),
		plainLine("• L2     : "+l2),
		plainLine(fmt.Sprintf("• Tokens : %d/%d", s.TokensDone, s.TokensTotal)),
	)
	if s.DeployBadge != "" {
		body = append(body, plainLine("  ↳ "+s.DeployBadge))
	}
	body = append(body, plainLine(fmt.Sprintf("• Drops  : %d/%d", s.DropsDone, s.DropsTotal)))
	if s.DropBadge != "" {
		body = append(body, plainLine("  ↳ "+s.DropBadge))
	}
	body = append(body, plainLine(fmt.Sprintf("• Errors : %d", s.Errors)))

	if f.opts.Banner != "" {
		pad := max(0, (inner-widths.StringWidth(f.opts.Banner))/2)
		banner := strings.Repeat(" ", pad) + f.opts.Banner
		body = append(body, styledLine{
			text:  banner,
			style: func(string) string { return strings.Repeat(" ", pad) + f.styles.banner.Sprint(f.opts.Banner) },
		})
	}

	edge := f.styles.border
	lines := []string{edge.Sprint("╭" + strings.Repeat("─", width-2) + "╮")}
	for _, l := range body {
		for _, seg := range splitLines(l) {
			for _, part := range wrap(seg, inner) {
				fill := strings.Repeat(" ", inner-widths.StringWidth(part.text))
				lines = append(lines, edge.Sprint("│")+" "+part.render()+fill+" "+edge.Sprint("│"))
			}
		}
	}
	lines = append(lines, edge.Sprint("╰"+strings.Repeat("─", width-2)+"╯"))
	return lines
}

// styledLine is a line of known visible text with an optional styled rendering.
type styledLine struct {
	text  string
	style func(string) string
}

func plainLine(s string) styledLine {
	return styledLine{text: s}
}

func (l styledLine) render() string {
	if l.style == nil {
		return l.text
	}
	return l.style(l.text)
}

var lineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// splitLines breaks text carrying its own line breaks, such as an RPC error
// with an HTML body, into plain lines. Tabs become single spaces.
func splitLines(l styledLine) []styledLine {
	if !strings.ContainsAny(l.text, "\r\n\t") {
		return []styledLine{l}
	}
	parts := lineBreak.Split(strings.ReplaceAll(l.text, "\t", " "), -1)
	out := make([]styledLine, 0, len(parts))
	for _, p := range parts {
		out = append(out, plainLine(p))
	}
	return out
}

// wrap hard-wraps a line at width display columns. Styling only survives on
// lines that fit.
func wrap(l styledLine, width int) []styledLine {
	if widths.StringWidth(l.text) <= width {
		return []styledLine{l}
	}
	var out []styledLine
	var b strings.Builder
	w := 0
	for _, r := range l.text {
		rw := widths.RuneWidth(r)
		if w+rw > width {
			out = append(out, plainLine(b.String()))
			b.Reset()
			w = 0
		}
		b.WriteRune(r)
		w += rw
	}
	if b.Len() > 0 {
		out = append(out, plainLine(b.String()))
	}
	return out
}

// joinSideBySide places two boxes next to each other, padding the shorter one
// with blank lines of the box width so both columns have equal height.
func joinSideBySide(left, right []string, width, gap int) []string {
	h := max(len(left), len(right))
	blank := strings.Repeat(" ", width)
	spacer := strings.Repeat(" ", gap)
	out := make([]string, h)
	for i := 0; i < h; i++ {
		l, r := blank, blank
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		out[i] = l + spacer + r
	}
	return out
}
