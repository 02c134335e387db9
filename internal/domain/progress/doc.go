// Package progress содержит доменную модель прогресса пользователя.
//
// Пакет определяет:
//
//   - Модель категорий (Category) и ранги по категориям (Rank)
//   - Кривые уровней (Curve) и калькулятор прогресса (Calculator)
//   - Агрегат UserProgress, журнал XpTransaction и дневные сводки XpDailySummary
//   - Мутацию Mutation, выраженную через дельты, и контракт Repository
//
// # Инварианты
//
//  1. Level всегда равен Calculator.Global.LevelFor(TotalXP).
//  2. CategoryProgress[c].Level всегда равен Calculator.Category.LevelFor(CategoryXP[c]).
//  3. Achievements и PendingAchievements не пересекаются.
//  4. Каждое изменение TotalXP сопровождается ровно одной XpTransaction.
//
// Пакет не имеет внешних зависимостей, кроме стандартной библиотеки.
//
// # Пример
//
//	calc := progress.DefaultCalculator()
//	level := calc.Global.LevelFor(1050)          // 4
//	next := calc.Global.XPToNextLevel(1050)      // 550
//	rank := calc.Ranks.RankFor(1600)             // Intermediate
package progress
