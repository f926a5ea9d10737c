package dialogue

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/wfunc/tabletop-client/internal/eventloop"
	"github.com/wfunc/tabletop-client/internal/logger"
	"go.uber.org/zap"
)

// Phase 打字机状态
type Phase int

const (
	Idle Phase = iota
	Typing
	PageComplete
	AwaitingAdvance
)

// String 返回状态名
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Typing:
		return "typing"
	case PageComplete:
		return "page_complete"
	case AwaitingAdvance:
		return "awaiting_advance"
	default:
		return "unknown"
	}
}

// Frame 一帧渲染内容
type Frame struct {
	Speaker string
	Text    string // 当前页已显示的文字
	Page    int    // 从0开始
	Pages   int
	Phase   Phase
}

// Sink 渲染输出
type Sink interface {
	Render(f Frame)
}

// SinkFunc 函数适配器
type SinkFunc func(f Frame)

// Render 实现 Sink
func (fn SinkFunc) Render(f Frame) { fn(f) }

// Options 打字机参数
type Options struct {
	TypeSpeed     time.Duration
	AutoTurnDelay time.Duration
	PageRunes     int
}

// 默认参数
const (
	defaultTypeSpeed     = 50 * time.Millisecond
	defaultAutoTurnDelay = 2500 * time.Millisecond
	defaultPageRunes     = 120
)

// 时间戳/发言人前缀
var prefixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\d{1,2}:\d{2}\s?[AP]M[^:]+:\s*`),
	regexp.MustCompile(`(?i)^\d{1,2}:\d{2}:\d{2}\s?[AP]M[^:]+:\s*`),
	regexp.MustCompile(`^\d{1,2}:\d{2}\s?[^:]+:\s*`),
}

// CleanText 去掉消息开头的时间戳和发言人前缀
func CleanText(s string) string {
	for _, re := range prefixPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// Paginate 按页长切分文字，尽量在空白处断开
func Paginate(s string, pageRunes int) []string {
	if pageRunes <= 0 {
		pageRunes = defaultPageRunes
	}
	runes := []rune(strings.TrimSpace(s))
	var pages []string
	for len(runes) > 0 {
		if len(runes) <= pageRunes {
			pages = append(pages, string(runes))
			break
		}
		cut := pageRunes
		for i := pageRunes; i > pageRunes/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		pages = append(pages, strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace))
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	return pages
}

// Typewriter 逐字显示的对话框，每个对话框一个实例
type Typewriter struct {
	sched eventloop.Scheduler
	sink  Sink
	opts  Options

	phase   Phase
	speaker string
	pages   [][]rune
	page    int
	pos     int
	timer   eventloop.Cancel
	done    func()

	logger *zap.Logger
}

// NewTypewriter 创建打字机
func NewTypewriter(sched eventloop.Scheduler, sink Sink, opts Options) *Typewriter {
	if opts.TypeSpeed <= 0 {
		opts.TypeSpeed = defaultTypeSpeed
	}
	if opts.AutoTurnDelay <= 0 {
		opts.AutoTurnDelay = defaultAutoTurnDelay
	}
	if opts.PageRunes <= 0 {
		opts.PageRunes = defaultPageRunes
	}
	if sink == nil {
		sink = SinkFunc(func(Frame) {})
	}
	return &Typewriter{
		sched:  sched,
		sink:   sink,
		opts:   opts,
		logger: logger.GetModuleLogger(logger.ModuleDialogue),
	}
}

// Phase 当前状态
func (t *Typewriter) Phase() Phase {
	return t.phase
}

// Reveal 开始展示一条对话，实现 Renderer
func (t *Typewriter) Reveal(item Item, done func()) {
	t.stopTimer()
	if t.phase != Idle {
		t.logger.Warn("上一条对话未结束即被替换", zap.String("phase", t.phase.String()))
	}

	t.speaker = item.Speaker
	t.done = done
	t.pages = t.pages[:0]
	for _, p := range Paginate(CleanText(item.Content), t.opts.PageRunes) {
		t.pages = append(t.pages, []rune(p))
	}

	if len(t.pages) == 0 {
		t.finish()
		return
	}
	t.typePage(0)
}

// Click 打字中则立即显示整页，否则翻到下一页或结束
func (t *Typewriter) Click() {
	switch t.phase {
	case Typing:
		t.finishTyping()
	case PageComplete:
		t.typePage(t.page + 1)
	case AwaitingAdvance:
		t.finish()
	}
}

// Cancel 中断当前展示，不调用完成回调
func (t *Typewriter) Cancel() {
	t.stopTimer()
	t.phase = Idle
	t.done = nil
	t.pages = t.pages[:0]
}

func (t *Typewriter) typePage(i int) {
	t.stopTimer()
	t.page = i
	t.pos = 0
	t.phase = Typing
	t.emit()
	t.timer = t.sched.Every(t.opts.TypeSpeed, t.typeRune)
}

func (t *Typewriter) typeRune() {
	if t.phase != Typing {
		return
	}
	t.pos++
	if t.pos >= len(t.pages[t.page]) {
		t.finishTyping()
		return
	}
	t.emit()
}

func (t *Typewriter) finishTyping() {
	t.stopTimer()
	t.pos = len(t.pages[t.page])

	if t.page < len(t.pages)-1 {
		t.phase = PageComplete
		t.emit()
		next := t.page + 1
		t.timer = t.sched.After(t.opts.AutoTurnDelay, func() {
			t.timer = nil
			t.typePage(next)
		})
		return
	}

	t.phase = AwaitingAdvance
	t.emit()
	t.timer = t.sched.After(t.opts.AutoTurnDelay, func() {
		t.timer = nil
		t.finish()
	})
}

func (t *Typewriter) finish() {
	t.stopTimer()
	t.phase = Idle
	done := t.done
	t.done = nil
	if done != nil {
		done()
	}
}

func (t *Typewriter) emit() {
	page := t.pages[t.page]
	t.sink.Render(Frame{
		Speaker: t.speaker,
		Text:    string(page[:t.pos]),
		Page:    t.page,
		Pages:   len(t.pages),
		Phase:   t.phase,
	})
}

func (t *Typewriter) stopTimer() {
	if t.timer != nil {
		t.timer()
		t.timer = nil
	}
}
