package core

// AchievementID identifies a one-time bonus.
type AchievementID string

const (
	AchievementCriticalThinker     AchievementID = "critical_thinker"
	AchievementACDMaster           AchievementID = "acd_master"
	AchievementEvidenceChampion    AchievementID = "evidence_champion"
	AchievementTenEvaluations      AchievementID = "ten_evals"
	AchievementPerfectScore        AchievementID = "perfect"
	AchievementAllDimensions       AchievementID = "all_dims"
	AchievementWeekStreak          AchievementID = "week_streak"
	AchievementMonthStreak         AchievementID = "month_streak"
	AchievementMetacognitiveMaster AchievementID = "metacog_master"
)

// Achievement is a static catalog entry. Unlocking awards Points flat,
// without the streak multiplier.
type Achievement struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Points      int64         `json:"points"`
	Icon        string        `json:"icon"`
}

// DimensionCount is the number of distinct dimensions a learner can complete.
const DimensionCount = 4

var achievements = map[AchievementID]Achievement{
	AchievementCriticalThinker:     {ID: AchievementCriticalThinker, Name: "🧠 Pensador Crítico", Description: "Primera pregunta de nivel 5 (ACD)", Points: 100, Icon: "🧠"},
	AchievementACDMaster:           {ID: AchievementACDMaster, Name: "🎭 Maestro del ACD", Description: "Identificó 3 marcos ideológicos diferentes", Points: 150, Icon: "🎭"},
	AchievementEvidenceChampion:    {ID: AchievementEvidenceChampion, Name: "🔗 Campeón de Evidencia", Description: "Usó 10+ citas textuales en evaluaciones", Points: 75, Icon: "🔗"},
	AchievementTenEvaluations:      {ID: AchievementTenEvaluations, Name: "📚 Evaluador Dedicado", Description: "10 evaluaciones completadas", Points: 100, Icon: "📚"},
	AchievementPerfectScore:        {ID: AchievementPerfectScore, Name: "⭐ Excelencia Crítica", Description: "Puntuación 10/10 en evaluación", Points: 200, Icon: "⭐"},
	AchievementAllDimensions:       {ID: AchievementAllDimensions, Name: "🎓 Literato Crítico", Description: "Todas las 4 dimensiones completadas", Points: 500, Icon: "🎓"},
	AchievementWeekStreak:          {ID: AchievementWeekStreak, Name: "🔥 Racha Semanal", Description: "7 días consecutivos de estudio", Points: 100, Icon: "🔥"},
	AchievementMonthStreak:         {ID: AchievementMonthStreak, Name: "💪 Dedicación Mensual", Description: "30 días consecutivos de estudio", Points: 500, Icon: "💪"},
	AchievementMetacognitiveMaster: {ID: AchievementMetacognitiveMaster, Name: "🪞 Maestro Metacognitivo", Description: "5 reflexiones metacognitivas completadas", Points: 150, Icon: "🪞"},
}

// LookupAchievement returns the catalog entry for id.
func LookupAchievement(id AchievementID) (Achievement, bool) {
	a, ok := achievements[id]
	return a, ok
}

// UnlockEntry builds the synthetic history entry recording an unlock.
func (a Achievement) UnlockEntry(at int64) HistoryEntry {
	return HistoryEntry{
		ID:           NewEntryID(),
		Kind:         KindAchievementUnlocked,
		Label:        "🏆 " + a.Name,
		BasePoints:   a.Points,
		Multiplier:   1,
		EarnedPoints: a.Points,
		Timestamp:    at,
		Metadata: Metadata{
			MetaAchievementID: string(a.ID),
			MetaDescription:   a.Description,
		},
	}
}
