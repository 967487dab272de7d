// Package lexicon 加载助手使用的多语言关键词库和正则模式。
// 默认词库以 YAML 形式嵌入二进制，可通过 assistant.lexicon_path 指定的文件覆盖或追加。
package lexicon

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/viper"
)

//go:embed default.yaml
var defaultYAML []byte

// Bank 是一组等价关键词，任一语言的写法都计入同一个词库。
type Bank []string

// Hits 返回在 text 中命中的不同关键词个数。text 需先经过 Normalize。
func (b Bank) Hits(text string) int {
	n := 0
	for _, kw := range b {
		if containsAtWordStart(text, kw) {
			n++
		}
	}
	return n
}

// Match 表示 text 是否命中任一关键词。
func (b Bank) Match(text string) bool {
	for _, kw := range b {
		if containsAtWordStart(text, kw) {
			return true
		}
	}
	return false
}

// TopicBank 是带主题名的词库，用于有序匹配。
type TopicBank struct {
	Topic    string `mapstructure:"topic"`
	Keywords Bank   `mapstructure:"keywords"`
}

type PregnancyBanks struct {
	Topic          Bank `mapstructure:"topic"`
	ExerciseIntent Bank `mapstructure:"exercise_intent"`
	CourseInquiry  Bank `mapstructure:"course_inquiry"`
}

type SalesBanks struct {
	Objection  Bank `mapstructure:"objection"`
	Comparison Bank `mapstructure:"comparison"`
	Hesitation Bank `mapstructure:"hesitation"`
}

type BenefitBanks struct {
	Back   Bank `mapstructure:"back"`
	Stress Bank `mapstructure:"stress"`
}

type IntentBanks struct {
	Contact      Bank `mapstructure:"contact"`
	Subscription Bank `mapstructure:"subscription"`
	PaidAccess   Bank `mapstructure:"paid_access"`
	FollowUp     Bank `mapstructure:"follow_up"`
}

type GenderBanks struct {
	MaleOnly   Bank `mapstructure:"male_only"`
	FemaleOnly Bank `mapstructure:"female_only"`
}

// MemoryPatterns 是行为记忆抽取使用的正则（RE2 语法）和时间偏好词。
type MemoryPatterns struct {
	Goal      []string `mapstructure:"goal"`
	PainPoint []string `mapstructure:"pain_point"`
	Complaint []string `mapstructure:"complaint"`
	Morning   Bank     `mapstructure:"morning"`
	Evening   Bank     `mapstructure:"evening"`
}

// FAQEntry 是一条精选问答，Answer 按语言代码索引。
type FAQEntry struct {
	ID       string            `mapstructure:"id"`
	Triggers Bank              `mapstructure:"triggers"`
	Answer   map[string]string `mapstructure:"answer"`
}

// AnswerIn 返回指定语言的答案，缺失时回退到乌兹别克语。
func (f FAQEntry) AnswerIn(lang string) string {
	if a, ok := f.Answer[lang]; ok && a != "" {
		return a
	}
	return f.Answer["uz"]
}

// Lexicon 汇总所有词库。加载后只读，可被并发请求共享。
type Lexicon struct {
	Emotions  map[string]Bank `mapstructure:"emotions"`
	Safety    []TopicBank     `mapstructure:"safety"`
	Pregnancy PregnancyBanks  `mapstructure:"pregnancy"`
	Sales     SalesBanks      `mapstructure:"sales"`
	Benefits  BenefitBanks    `mapstructure:"benefits"`
	Intents   IntentBanks     `mapstructure:"intents"`
	Gender    GenderBanks     `mapstructure:"gender"`
	Memory    MemoryPatterns  `mapstructure:"memory"`
	FAQ       []FAQEntry      `mapstructure:"faq"`

	goalRe      []*regexp.Regexp
	painRe      []*regexp.Regexp
	complaintRe []*regexp.Regexp
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default 返回内置词库，仅在第一次调用时解析。
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lex, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("内置词库解析失败: %v", err))
		}
		defaultLex = lex
	})
	return defaultLex
}

// Load 解析内置词库，并在 path 非空时合并该文件中的同名键（列表整体替换）。
func Load(path string) (*Lexicon, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("读取内置词库失败: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("合并词库文件 %s 失败: %w", path, err)
		}
	}

	var lex Lexicon
	if err := v.Unmarshal(&lex); err != nil {
		return nil, fmt.Errorf("无法将词库解析到结构体中: %w", err)
	}
	lex.normalize()

	var err error
	if lex.goalRe, err = compileAll(lex.Memory.Goal); err != nil {
		return nil, err
	}
	if lex.painRe, err = compileAll(lex.Memory.PainPoint); err != nil {
		return nil, err
	}
	if lex.complaintRe, err = compileAll(lex.Memory.Complaint); err != nil {
		return nil, err
	}
	return &lex, nil
}

// Emotion 返回某个情绪的词库，不存在时返回 nil。
func (l *Lexicon) Emotion(state string) Bank {
	return l.Emotions[state]
}

// SafetyTopic 按顺序匹配安全词库，返回第一个命中的主题。
func (l *Lexicon) SafetyTopic(text string) (string, bool) {
	for _, b := range l.Safety {
		if b.Keywords.Match(text) {
			return b.Topic, true
		}
	}
	return "", false
}

// FindFAQ 返回第一条触发短语出现在 text 中的问答。
func (l *Lexicon) FindFAQ(text string) (FAQEntry, bool) {
	for _, f := range l.FAQ {
		if f.Triggers.Match(text) {
			return f, true
		}
	}
	return FAQEntry{}, false
}

func (l *Lexicon) IsGoal(text string) bool      { return anyMatch(l.goalRe, text) }
func (l *Lexicon) IsPainPoint(text string) bool { return anyMatch(l.painRe, text) }
func (l *Lexicon) IsComplaint(text string) bool { return anyMatch(l.complaintRe, text) }

func (l *Lexicon) normalize() {
	for k, b := range l.Emotions {
		l.Emotions[k] = normalizeBank(b)
	}
	for i := range l.Safety {
		l.Safety[i].Keywords = normalizeBank(l.Safety[i].Keywords)
	}
	for _, b := range []*Bank{
		&l.Pregnancy.Topic, &l.Pregnancy.ExerciseIntent, &l.Pregnancy.CourseInquiry,
		&l.Sales.Objection, &l.Sales.Comparison, &l.Sales.Hesitation,
		&l.Benefits.Back, &l.Benefits.Stress,
		&l.Intents.Contact, &l.Intents.Subscription, &l.Intents.PaidAccess, &l.Intents.FollowUp,
		&l.Gender.MaleOnly, &l.Gender.FemaleOnly,
		&l.Memory.Morning, &l.Memory.Evening,
	} {
		*b = normalizeBank(*b)
	}
	for i := range l.FAQ {
		l.FAQ[i].Triggers = normalizeBank(l.FAQ[i].Triggers)
	}
}

func normalizeBank(b Bank) Bank {
	out := make(Bank, 0, len(b))
	for _, kw := range b {
		if kw = Normalize(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + Normalize(p))
		if err != nil {
			return nil, fmt.Errorf("词库正则 %q 无效: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʻ", "'", "ʼ", "'", "`", "'", "´", "'")

// Normalize 转小写、统一撇号写法并压缩空白。所有匹配都在归一化后的文本上进行。
func Normalize(s string) string {
	s = apostrophes.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// Words 按非字母数字切分文本，撇号视为词的一部分（o'g'il）。
func Words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !isWordRune(r) })
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// containsAtWordStart 判断 kw 是否出现在 text 中某个词的开头，
// 这样俄语词干（поясниц）可以匹配各种词形，又不会误中词中间的片段。
func containsAtWordStart(text, kw string) bool {
	if kw == "" {
		return false
	}
	for off := 0; off+len(kw) <= len(text); {
		i := strings.Index(text[off:], kw)
		if i < 0 {
			return false
		}
		pos := off + i
		if pos == 0 {
			return true
		}
		if r, _ := utf8.DecodeLastRuneInString(text[:pos]); !isWordRune(r) {
			return true
		}
		off = pos + 1
	}
	return false
}
