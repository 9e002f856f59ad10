package core

import "sort"

// EventKind names a pedagogical action that can earn points.
//
// The set of recordable kinds is closed: every constant below has a catalog
// Definition. Any other string is treated as an unknown kind, which is kept
// verbatim in history so entries written by newer clients survive a round
// trip but never award points here.
type EventKind string

const (
	KindQuestionBloom1 EventKind = "QUESTION_BLOOM_1"
	KindQuestionBloom2 EventKind = "QUESTION_BLOOM_2"
	KindQuestionBloom3 EventKind = "QUESTION_BLOOM_3"
	KindQuestionBloom4 EventKind = "QUESTION_BLOOM_4"
	KindQuestionBloom5 EventKind = "QUESTION_BLOOM_5"
	KindQuestionBloom6 EventKind = "QUESTION_BLOOM_6"

	KindACDFrameIdentified    EventKind = "ACD_FRAME_IDENTIFIED"
	KindACDStrategyIdentified EventKind = "ACD_STRATEGY_IDENTIFIED"
	KindACDPowerAnalysis      EventKind = "ACD_POWER_ANALYSIS"

	KindEvaluationSubmitted EventKind = "EVALUATION_SUBMITTED"
	KindEvaluationLevel1    EventKind = "EVALUATION_LEVEL_1"
	KindEvaluationLevel2    EventKind = "EVALUATION_LEVEL_2"
	KindEvaluationLevel3    EventKind = "EVALUATION_LEVEL_3"
	KindEvaluationLevel4    EventKind = "EVALUATION_LEVEL_4"
	KindQuoteUsed           EventKind = "QUOTE_USED"

	KindStrongTextualAnchoring   EventKind = "STRONG_TEXTUAL_ANCHORING"
	KindMetacognitiveIntegration EventKind = "METACOGNITIVE_INTEGRATION"

	KindDimensionUnlocked  EventKind = "DIMENSION_UNLOCKED"
	KindDimensionCompleted EventKind = "DIMENSION_COMPLETED"

	KindAnnotationCreated EventKind = "ANNOTATION_CREATED"
	KindNoteCreated       EventKind = "NOTE_CREATED"

	KindWebSearchUsed               EventKind = "WEB_SEARCH_USED"
	KindContextualizationHistorical EventKind = "CONTEXTUALIZATION_HISTORICAL"
	KindSocialConnectionsMapped     EventKind = "SOCIAL_CONNECTIONS_MAPPED"
	KindCriticalThesisDeveloped     EventKind = "CRITICAL_THESIS_DEVELOPED"
	KindCounterargumentAnticipated  EventKind = "COUNTERARGUMENT_ANTICIPATED"
	KindRefutationElaborated        EventKind = "REFUTATION_ELABORATED"
	KindPerfectScore                EventKind = "PERFECT_SCORE"

	KindMetacognitiveReflection EventKind = "METACOGNITIVE_REFLECTION"
	KindSelfAssessment          EventKind = "SELF_ASSESSMENT"

	KindActivityCompleted EventKind = "ACTIVITY_COMPLETED"
	KindTablaACDCompleted EventKind = "TABLA_ACD_COMPLETED"
)

// Synthetic kinds are written by the ledger itself and cannot be recorded.
const (
	KindAchievementUnlocked EventKind = "ACHIEVEMENT_UNLOCKED"
	KindPointsRedeemed      EventKind = "POINTS_REDEEMED"
	KindLegacyRecovery      EventKind = "LEGACY_RECOVERY"
)

// DedupePolicy decides whether a (kind, resourceId) pair may award twice.
type DedupePolicy int

const (
	// DedupeAuto dedupes when the event is worth more than 10 base points.
	DedupeAuto DedupePolicy = iota
	DedupeAlways
	DedupeNever
)

// Definition is the immutable catalog entry for an event kind.
type Definition struct {
	Kind       EventKind
	BasePoints int64
	Label      string
	Dedupe     DedupePolicy
	// DailyLimit caps accepted events per local day; zero means no cap.
	DailyLimit int
}

// Dedupes reports whether a resourceId on the event scopes a one-time award.
func (d Definition) Dedupes() bool {
	switch d.Dedupe {
	case DedupeAlways:
		return true
	case DedupeNever:
		return false
	default:
		return d.BasePoints > 10
	}
}

var catalog = map[EventKind]Definition{}

func define(kind EventKind, points int64, label string, dedupe DedupePolicy, dailyLimit int) {
	catalog[kind] = Definition{Kind: kind, BasePoints: points, Label: label, Dedupe: dedupe, DailyLimit: dailyLimit}
}

func init() {
	define(KindQuestionBloom1, 2, "📖 Pregunta Literal", DedupeAuto, 0)
	define(KindQuestionBloom2, 5, "💡 Pregunta Inferencial", DedupeAuto, 0)
	define(KindQuestionBloom3, 10, "🌍 Pregunta Aplicativa", DedupeAuto, 0)
	define(KindQuestionBloom4, 20, "🔍 Pregunta Analítica", DedupeAuto, 0)
	define(KindQuestionBloom5, 35, "⚖️ Pregunta Crítica (ACD)", DedupeAuto, 0)
	define(KindQuestionBloom6, 50, "✨ Pregunta Propositiva", DedupeAuto, 0)

	define(KindACDFrameIdentified, 25, "🎭 Marco Ideológico Identificado", DedupeAuto, 0)
	define(KindACDStrategyIdentified, 15, "🗣️ Estrategia Retórica Identificada", DedupeAuto, 0)
	define(KindACDPowerAnalysis, 30, "⚡ Análisis de Relaciones de Poder", DedupeAuto, 0)

	define(KindEvaluationSubmitted, 10, "📝 Evaluación Enviada", DedupeAlways, 0)
	define(KindEvaluationLevel1, 5, "🥉 Nivel 1 - Inicial", DedupeAlways, 0)
	define(KindEvaluationLevel2, 10, "🥈 Nivel 2 - Básico", DedupeAlways, 0)
	define(KindEvaluationLevel3, 20, "🥇 Nivel 3 - Competente", DedupeAlways, 0)
	define(KindEvaluationLevel4, 40, "💎 Nivel 4 - Avanzado", DedupeAlways, 0)
	define(KindQuoteUsed, 2, "📎 Cita Textual Usada", DedupeAlways, 0)

	define(KindStrongTextualAnchoring, 15, "🔗 Anclaje Textual Sólido", DedupeAuto, 0)
	define(KindMetacognitiveIntegration, 10, "🧠 Integración Fluida de Evidencia", DedupeAlways, 0)

	define(KindDimensionUnlocked, 30, "🔓 Dimensión Desbloqueada", DedupeAuto, 0)
	define(KindDimensionCompleted, 75, "✅ Dimensión Completada", DedupeAuto, 0)

	define(KindAnnotationCreated, 3, "📝 Anotación Creada", DedupeAuto, 20)
	define(KindNoteCreated, 5, "💭 Nota de Estudio Creada", DedupeAuto, 10)

	define(KindWebSearchUsed, 15, "🌐 Enriquecimiento Web", DedupeNever, 10)
	define(KindContextualizationHistorical, 20, "🕰️ Contextualización Socio-Histórica", DedupeAuto, 0)
	define(KindSocialConnectionsMapped, 15, "🔗 Conexiones Sociales Mapeadas", DedupeAuto, 0)
	define(KindCriticalThesisDeveloped, 20, "💭 Tesis Crítica Desarrollada", DedupeAuto, 0)
	define(KindCounterargumentAnticipated, 15, "⚔️ Contraargumento Anticipado", DedupeAuto, 0)
	define(KindRefutationElaborated, 15, "🛡️ Refutación Elaborada", DedupeAuto, 0)
	define(KindPerfectScore, 50, "⭐ Puntuación Perfecta", DedupeAlways, 0)

	define(KindMetacognitiveReflection, 20, "🤔 Reflexión Metacognitiva", DedupeAuto, 0)
	define(KindSelfAssessment, 10, "📊 Autoevaluación", DedupeAlways, 0)

	define(KindActivityCompleted, 25, "🎯 Actividad Completada", DedupeAuto, 0)
	define(KindTablaACDCompleted, 40, "📊 Tabla ACD Completada", DedupeAuto, 0)
}

// Lookup returns the catalog definition for kind. Unknown and synthetic
// kinds report false; callers treat them as a zero-effect no-op.
func Lookup(kind EventKind) (Definition, bool) {
	d, ok := catalog[kind]
	return d, ok
}

// Known reports whether kind is a recordable catalog kind.
func (k EventKind) Known() bool {
	_, ok := catalog[k]
	return ok
}

// Synthetic reports whether kind is written by the ledger itself.
func (k EventKind) Synthetic() bool {
	switch k {
	case KindAchievementUnlocked, KindPointsRedeemed, KindLegacyRecovery:
		return true
	}
	return false
}

// BloomLevel returns the Bloom level encoded by a QUESTION_BLOOM_n kind.
func (k EventKind) BloomLevel() (int, bool) {
	switch k {
	case KindQuestionBloom1:
		return 1, true
	case KindQuestionBloom2:
		return 2, true
	case KindQuestionBloom3:
		return 3, true
	case KindQuestionBloom4:
		return 4, true
	case KindQuestionBloom5:
		return 5, true
	case KindQuestionBloom6:
		return 6, true
	}
	return 0, false
}

// Kinds lists every recordable kind.
func Kinds() []EventKind {
	out := make([]EventKind, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
