package service

import (
	"fmt"

	"fitcoach-go/internal/lexicon"
	"fitcoach-go/internal/model"
)

// 安全词库的主题名，与词库文件中的 topic 一致。
const (
	SafetyBack      = "back"
	SafetyJoints    = "joints"
	SafetyStress    = "stress"
	SafetyMedical   = "medical"
	SafetyPregnancy = "pregnancy"
)

// SafetyVerdict 是安全检查的结果。Triggered 为 true 时必须直接返回 Message。
type SafetyVerdict struct {
	Triggered bool
	Category  string
	Message   string
}

// SafetyGuard 在检索和生成之前拦截医疗相关的问题。
type SafetyGuard struct {
	lex           *lexicon.Lexicon
	contactHandle string
}

// NewSafetyGuard 创建一个新的 SafetyGuard 实例。
func NewSafetyGuard(lex *lexicon.Lexicon, contactHandle string) *SafetyGuard {
	return &SafetyGuard{lex: lex, contactHandle: contactHandle}
}

// Check 按顺序匹配腰背、关节、压力、一般医疗词库，第一个命中的决定回复。
func (g *SafetyGuard) Check(message string, lang model.Lang, subscribed bool) SafetyVerdict {
	category, ok := g.lex.SafetyTopic(lexicon.Normalize(message))
	if !ok {
		return SafetyVerdict{}
	}
	return SafetyVerdict{Triggered: true, Category: category, Message: g.deflection(category, lang, subscribed)}
}

// CheckPregnancy 仅在与怀孕相关、带有运动意图、且不是单纯询问课程时拦截。
func (g *SafetyGuard) CheckPregnancy(message string, isPregnant bool, lang model.Lang) SafetyVerdict {
	text := lexicon.Normalize(message)
	p := g.lex.Pregnancy
	if !(p.Topic.Match(text) || isPregnant) || !p.ExerciseIntent.Match(text) || p.CourseInquiry.Match(text) {
		return SafetyVerdict{}
	}
	return SafetyVerdict{
		Triggered: true,
		Category:  SafetyPregnancy,
		Message: fmt.Sprintf(lang.Pick(
			"Homiladorlik davrida har qanday jismoniy yuklama faqat shifokoringiz ruxsati bilan bo'lishi kerak, shuning uchun men mashq tavsiya qila olmayman. Homilador ayollar uchun xavfsiz dasturlar bo'yicha mutaxassisimiz bilan bog'laning: %s",
			"Во время беременности любые нагрузки допустимы только с разрешения вашего врача, поэтому я не могу рекомендовать упражнения. По безопасным программам для беременных свяжитесь с нашим специалистом: %s",
		), g.contactHandle),
	}
}

func (g *SafetyGuard) deflection(category string, lang model.Lang, subscribed bool) string {
	switch category {
	case SafetyBack:
		return lang.Pick(
			"Bel va umurtqa og'rig'i sababini masofadan aniqlab bo'lmaydi, shuning uchun tashxis qo'ymayman va og'riq paytida mashq qilishni tavsiya etmayman. Avval shifokor yoki fizioterapevt ko'rigidan o'ting. Og'riq bo'lmagan kunlarda yengil cho'zilish va to'g'ri nafas olish belni bo'shashtirishga yordam beradi.",
			"Причину боли в спине нельзя определить заочно, поэтому я не ставлю диагноз и не советую заниматься во время боли. Сначала покажитесь врачу или физиотерапевту. В дни без боли мягкая растяжка и правильное дыхание помогают расслабить спину.",
		) + "\n\n" + g.coursePointer(lang, subscribed,
			"Kursingizdagi bel uchun yumshoq darslarni shifokor ruxsatidan keyin boshlashingiz mumkin.",
			"После разрешения врача можно начать с мягких уроков для спины в вашем курсе.",
			"Platformamizda bel salomatligi uchun maxsus yumshoq dastur bor.",
			"На платформе есть специальная бережная программа для здоровья спины.")
	case SafetyJoints:
		return lang.Pick(
			"Bo'g'imlardagi og'riq turli sabablarga ko'ra bo'lishi mumkin, uni faqat shifokor aniqlaydi. Og'riq bor paytda zarbli va sakrashli mashqlardan saqlaning, yengil harakat va iliq cho'zilish yaxshiroq.",
			"Боль в суставах может иметь разные причины, определить их может только врач. Пока есть боль, избегайте ударных и прыжковых упражнений, лучше мягкое движение и тёплая растяжка.",
		) + "\n\n" + g.coursePointer(lang, subscribed,
			"Kursingizda bo'g'imlarga yuklamasiz mashqlar bo'limi bor, shifokor bilan kelishib foydalaning.",
			"В вашем курсе есть раздел упражнений без нагрузки на суставы, используйте его после согласования с врачом.",
			"Platformamizda bo'g'imlarni asrovchi maxsus mashqlar to'plami bor.",
			"На платформе есть специальный комплекс, бережный к суставам.")
	case SafetyStress:
		return lang.Pick(
			"Stress va uyqusizlik jiddiy holat bo'lishi mumkin. Agar bu uzoq davom etsa, mutaxassisga murojaat qiling. Kundalik hayotda sekin nafas olish (4 soniya nafas olish, 6 soniya chiqarish) va kechqurun yengil cho'zilish yordam beradi.",
			"Стресс и бессонница могут быть серьёзным состоянием. Если это длится долго, обратитесь к специалисту. В повседневной жизни помогает медленное дыхание (вдох на 4 счёта, выдох на 6) и лёгкая растяжка вечером.",
		) + "\n\n" + g.coursePointer(lang, subscribed,
			"Kursingizdagi nafas va relaksatsiya darslarini sinab ko'ring.",
			"Попробуйте уроки дыхания и релаксации в вашем курсе.",
			"Platformamizda nafas va relaksatsiya bo'yicha darslar bor.",
			"На платформе есть уроки дыхания и релаксации.")
	}
	return fmt.Sprintf(lang.Pick(
		"Bu savol tibbiy maslahatni talab qiladi, men esa shifokor emasman, shuning uchun javob bera olmayman. Iltimos, shifokoringizga murojaat qiling yoki mutaxassisimiz bilan bog'laning: %s",
		"Этот вопрос требует медицинской консультации, а я не врач, поэтому ответить не могу. Пожалуйста, обратитесь к врачу или свяжитесь с нашим специалистом: %s",
	), g.contactHandle)
}

// coursePointer 对订阅用户指向其课程，对未订阅用户附带订阅/联系方式。
func (g *SafetyGuard) coursePointer(lang model.Lang, subscribed bool, subUz, subRu, promoUz, promoRu string) string {
	if subscribed {
		return lang.Pick(subUz, subRu)
	}
	return fmt.Sprintf(lang.Pick(
		"%s Obuna va batafsil ma'lumot uchun: %s",
		"%s Подписка и подробности: %s",
	), lang.Pick(promoUz, promoRu), g.contactHandle)
}

// EmpathyOpener 返回负面情绪下放在安全回复前面的一句共情话，其他情绪返回空串。
func EmpathyOpener(state model.EmotionalState, lang model.Lang) string {
	switch state {
	case model.StateTired:
		return lang.Pick("Charchaganingizni tushunaman.", "Понимаю, что вы устали.")
	case model.StateFrustrated:
		return lang.Pick("Bu sizni bezovta qilayotganini tushunaman.", "Понимаю, как это неприятно.")
	case model.StateInsecure:
		return lang.Pick("Xavotir olmang, bu haqda so'raganingiz juda to'g'ri.", "Не волнуйтесь, вы правильно сделали, что спросили.")
	case model.StateDoubting:
		return lang.Pick("Ehtiyotkorligingiz to'g'ri.", "Ваша осторожность оправдана.")
	case model.StateOverwhelmed:
		return lang.Pick("Keling, hammasini sodda qilib olamiz.", "Давайте всё упростим.")
	}
	return ""
}
