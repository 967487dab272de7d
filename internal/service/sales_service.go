package service

import (
	"fmt"
	"strings"

	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"
)

// SalesOpportunity 是从消息中识别出的购买犹豫类型。
type SalesOpportunity string

const (
	OpportunityNone       SalesOpportunity = ""
	OpportunityObjection  SalesOpportunity = "objection"
	OpportunityComparison SalesOpportunity = "comparison"
	OpportunityHesitation SalesOpportunity = "hesitation"
)

// SalesInput 是生成销售回复所需的用户画像。
type SalesInput struct {
	Message      string
	Lang         model.Lang
	State        model.EmotionalState
	HealthIssues string
	Gender       string
	Age          int
}

// SalesIntelligence 面向未订阅用户生成说服性回复，所有方法都是纯函数。
type SalesIntelligence struct {
	lex           *lexicon.Lexicon
	contactHandle string
	platformName  string
}

// NewSalesIntelligence 创建一个新的 SalesIntelligence 实例。
func NewSalesIntelligence(lex *lexicon.Lexicon, contactHandle, platformName string) *SalesIntelligence {
	return &SalesIntelligence{lex: lex, contactHandle: contactHandle, platformName: platformName}
}

// DetectOpportunity 依次检查价格异议、比较、犹豫。
func (s *SalesIntelligence) DetectOpportunity(message string) SalesOpportunity {
	text := lexicon.Normalize(message)
	switch {
	case s.lex.Sales.Objection.Match(text):
		return OpportunityObjection
	case s.lex.Sales.Comparison.Match(text):
		return OpportunityComparison
	case s.lex.Sales.Hesitation.Match(text):
		return OpportunityHesitation
	}
	return OpportunityNone
}

type benefitKind int

const (
	benefitGeneric benefitKind = iota
	benefitBack
	benefitHormonal
	benefitStress
	benefitMale
)

// GenerateResponse 由情绪开场白、收益陈述和结尾的价值主张+联系方式组成。
func (s *SalesIntelligence) GenerateResponse(in SalesInput) string {
	parts := []string{
		salesOpener(in.State, in.Lang, s.platformName),
		benefitText(s.pickBenefit(in), in.Lang),
		fmt.Sprintf(in.Lang.Pick(
			"Obuna bilan barcha video darslar, murabbiy maslahatlari va shaxsiy rejalar ochiladi. Savollaringiz bo'lsa, bizga yozing: %s",
			"С подпиской открываются все видеоуроки, советы тренера и персональные планы. Если остались вопросы, напишите нам: %s",
		), s.contactHandle),
	}
	return strings.Join(parts, "\n\n")
}

// pickBenefit 按优先级选择收益点：腰背 > 40 岁以上女性 > 压力/失眠 > 男性 > 通用。
func (s *SalesIntelligence) pickBenefit(in SalesInput) benefitKind {
	text := lexicon.Normalize(in.Message + " " + in.HealthIssues)
	gender := model.NormalizeGender(in.Gender)
	switch {
	case s.lex.Benefits.Back.Match(text):
		return benefitBack
	case gender == model.GenderFemale && in.Age >= 40:
		return benefitHormonal
	case s.lex.Benefits.Stress.Match(text):
		return benefitStress
	case gender == model.GenderMale:
		return benefitMale
	}
	return benefitGeneric
}

func salesOpener(state model.EmotionalState, lang model.Lang, platform string) string {
	switch state {
	case model.StateInsecure:
		return lang.Pick(
			"Xavotir olmang, darslarimiz aynan noldan boshlayotganlar uchun tuzilgan: har bir mashqning yengil varianti bor.",
			"Не переживайте, наши занятия созданы как раз для тех, кто начинает с нуля: у каждого упражнения есть облегчённый вариант.",
		)
	case model.StateDoubting:
		return lang.Pick(
			"Shubhalanishingiz tabiiy. Ko'pchilik o'quvchilarimiz birinchi natijani 2-3 haftada sezishadi.",
			"Сомневаться нормально. Большинство наших учеников замечают первые результаты через 2-3 недели.",
		)
	case model.StateTired:
		return lang.Pick(
			"Charchaganingizni tushunaman. Darslarimiz 15 daqiqadan boshlanadi va kuch-quvvatni tiklashga yordam beradi.",
			"Понимаю, что вы устали. Наши занятия начинаются от 15 минут и помогают восстановить силы.",
		)
	case model.StateFrustrated:
		return lang.Pick(
			"Tushunaman, bu holat asabga tegishi mumkin. Keling, sizga mos yechimni sodda qilib tushuntiray.",
			"Понимаю, это может раздражать. Давайте я просто объясню, какое решение вам подойдёт.",
		)
	}
	return fmt.Sprintf(lang.Pick(
		"%s bilan siz uyda, o'zingizga qulay vaqtda sog'lig'ingizga sarmoya kiritasiz.",
		"С %s вы инвестируете в своё здоровье дома, в удобное для вас время.",
	), platform)
}

func benefitText(kind benefitKind, lang model.Lang) string {
	switch kind {
	case benefitBack:
		return lang.Pick(
			"Bel va umurtqa uchun maxsus darslarimiz mushak korsetini mustahkamlaydi va harakatchanlikni yumshoq tarzda tiklaydi.",
			"Специальные занятия для спины укрепляют мышечный корсет и бережно возвращают подвижность позвоночнику.",
		)
	case benefitHormonal:
		return lang.Pick(
			"40 yoshdan keyin ayol organizmiga gormonal muvozanatni qo'llab-quvvatlovchi, bo'g'imlarni asrovchi mashqlar ayniqsa foydali.",
			"После 40 женскому организму особенно полезны упражнения, которые поддерживают гормональный баланс и берегут суставы.",
		)
	case benefitStress:
		return lang.Pick(
			"Nafas mashqlari va yumshoq cho'zilish stressni kamaytiradi va uyquni yaxshilaydi.",
			"Дыхательные практики и мягкая растяжка снижают стресс и улучшают сон.",
		)
	case benefitMale:
		return lang.Pick(
			"Erkaklar uchun dasturimiz kuch, chidamlilik va to'g'ri qaddi-qomatni rivojlantirishga qaratilgan.",
			"Мужская программа направлена на силу, выносливость и правильную осанку.",
		)
	}
	return lang.Pick(
		"Muntazam mashg'ulotlar energiyani oshiradi, qaddi-qomatni tuzatadi va kayfiyatni yaxshilaydi.",
		"Регулярные занятия добавляют энергии, выравнивают осанку и улучшают настроение.",
	)
}

// AccessUpsell 是未订阅用户尝试打开付费内容时的回复。
func (s *SalesIntelligence) AccessUpsell(lang model.Lang) string {
	return fmt.Sprintf(lang.Pick(
		"Bu darslar faqat obunachilar uchun ochiq. Obuna bo'lsangiz, barcha video darslar va murabbiy maslahatlari darhol ochiladi. Obuna bo'yicha yordam: %s",
		"Эти уроки доступны только подписчикам. После оформления подписки сразу откроются все видеоуроки и советы тренера. Помощь с подпиской: %s",
	), s.contactHandle)
}

// FAQUpsell 追加在未订阅用户的 FAQ 回答之后。
func (s *SalesIntelligence) FAQUpsell(lang model.Lang) string {
	return fmt.Sprintf(lang.Pick(
		"👉 Barcha darslarga kirish uchun obuna bo'ling. Batafsil: %s",
		"👉 Оформите подписку, чтобы получить доступ ко всем урокам. Подробнее: %s",
	), s.contactHandle)
}

// ContactInfo 是用户要求联系人工时的固定回复。
func (s *SalesIntelligence) ContactInfo(lang model.Lang) string {
	return fmt.Sprintf(lang.Pick(
		"Biz bilan bog'lanish uchun Telegram orqali yozing: %s. Menejerimiz ish vaqtida (09:00-21:00) tez orada javob beradi.",
		"Чтобы связаться с нами, напишите в Telegram: %s. Менеджер ответит в рабочее время (09:00-21:00).",
	), s.contactHandle)
}
