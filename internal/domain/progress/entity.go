package progress

import (
	"slices"
	"time"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress - долгоживущая запись прогресса пользователя.
// Изменяется только через Mutation, версия растёт на каждое изменение.
type UserProgress struct {
	// UserID - идентификатор пользователя.
	UserID string

	// TotalXP - общий XP, никогда не меньше нуля.
	TotalXP int

	// Level - производное от TotalXP, хранится для чтения без пересчёта.
	Level int

	// CategoryXP - XP по каждой категории.
	CategoryXP map[Category]int

	// CategoryProgress - уровень и открытые упражнения по категориям.
	CategoryProgress map[Category]CategoryProgress

	// Achievements - полученные достижения, только добавление.
	Achievements []string

	// PendingAchievements - доступные, но ещё не полученные достижения.
	PendingAchievements []string

	// Version - версия для оптимистичной блокировки.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CategoryProgress - прогресс внутри одной категории.
type CategoryProgress struct {
	Level             int      `json:"level"`
	UnlockedExercises []string `json:"unlocked_exercises"`
}

// NewUserProgress создаёт запись с нулевыми значениями по умолчанию.
func NewUserProgress(userID string, now time.Time) *UserProgress {
	p := &UserProgress{
		UserID:              userID,
		Level:               1,
		CategoryXP:          make(map[Category]int, len(allCategories)),
		CategoryProgress:    make(map[Category]CategoryProgress, len(allCategories)),
		Achievements:        []string{},
		PendingAchievements: []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, c := range allCategories {
		p.CategoryXP[c] = 0
		p.CategoryProgress[c] = CategoryProgress{Level: 1, UnlockedExercises: []string{}}
	}
	return p
}

// HasClaimed проверяет, получено ли достижение.
func (p *UserProgress) HasClaimed(id string) bool {
	return slices.Contains(p.Achievements, id)
}

// IsPending проверяет, ожидает ли достижение получения.
func (p *UserProgress) IsPending(id string) bool {
	return slices.Contains(p.PendingAchievements, id)
}

// Clone returns a deep copy.
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	c.CategoryXP = make(map[Category]int, len(p.CategoryXP))
	for k, v := range p.CategoryXP {
		c.CategoryXP[k] = v
	}
	c.CategoryProgress = make(map[Category]CategoryProgress, len(p.CategoryProgress))
	for k, v := range p.CategoryProgress {
		c.CategoryProgress[k] = CategoryProgress{
			Level:             v.Level,
			UnlockedExercises: slices.Clone(v.UnlockedExercises),
		}
	}
	c.Achievements = slices.Clone(p.Achievements)
	c.PendingAchievements = slices.Clone(p.PendingAchievements)
	return &c
}

// Snapshot возвращает неизменяемый срез состояния для сравнения до/после.
func (p *UserProgress) Snapshot() Snapshot {
	s := Snapshot{
		TotalXP:        p.TotalXP,
		Level:          p.Level,
		CategoryXP:     make(map[Category]int, len(allCategories)),
		CategoryLevels: make(map[Category]int, len(allCategories)),
		Pending:        slices.Clone(p.PendingAchievements),
		Claimed:        slices.Clone(p.Achievements),
	}
	for _, c := range allCategories {
		s.CategoryXP[c] = p.CategoryXP[c]
		lvl := p.CategoryProgress[c].Level
		if lvl < 1 {
			lvl = 1
		}
		s.CategoryLevels[c] = lvl
	}
	return s
}

// Project вычисляет состояние после применения дельты XP без изменения записи.
// Общий XP и XP категории ограничиваются нулём независимо друг от друга.
func (p *UserProgress) Project(calc Calculator, xpDelta int, category Category) Projection {
	before := p.Snapshot()
	after := before.clone()

	after.TotalXP = max(0, before.TotalXP+xpDelta)
	after.Level = calc.Global.LevelFor(after.TotalXP)

	proj := Projection{
		Before:    before,
		XPApplied: after.TotalXP - before.TotalXP,
		Category:  category,
	}

	if category != "" {
		catXP := max(0, before.CategoryXP[category]+xpDelta)
		proj.CategoryApplied = catXP - before.CategoryXP[category]
		after.CategoryXP[category] = catXP
		after.CategoryLevels[category] = calc.Category.LevelFor(catXP)
	}

	proj.After = after
	return proj
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - состояние прогресса в момент времени.
// Используется для проверки достижений и данных отката.
type Snapshot struct {
	TotalXP        int              `json:"total_xp"`
	Level          int              `json:"level"`
	CategoryXP     map[Category]int `json:"category_xp"`
	CategoryLevels map[Category]int `json:"category_levels"`
	Pending        []string         `json:"pending"`
	Claimed        []string         `json:"claimed"`
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.CategoryXP = make(map[Category]int, len(s.CategoryXP))
	for k, v := range s.CategoryXP {
		c.CategoryXP[k] = v
	}
	c.CategoryLevels = make(map[Category]int, len(s.CategoryLevels))
	for k, v := range s.CategoryLevels {
		c.CategoryLevels[k] = v
	}
	c.Pending = slices.Clone(s.Pending)
	c.Claimed = slices.Clone(s.Claimed)
	return c
}

// WithPending возвращает копию снимка с добавленными ожидающими достижениями.
func (s Snapshot) WithPending(ids ...string) Snapshot {
	c := s.clone()
	for _, id := range ids {
		if !slices.Contains(c.Pending, id) && !slices.Contains(c.Claimed, id) {
			c.Pending = append(c.Pending, id)
		}
	}
	return c
}

// Projection - результат Project: снимки до и после и применённые дельты.
type Projection struct {
	Before          Snapshot
	After           Snapshot
	XPApplied       int
	Category        Category
	CategoryApplied int
}

// LeveledUp reports whether the global level went up.
func (p Projection) LeveledUp() bool {
	return p.After.Level > p.Before.Level
}

// CategoryLeveledUp reports whether the category level went up.
func (p Projection) CategoryLeveledUp() bool {
	if p.Category == "" {
		return false
	}
	return p.After.CategoryLevels[p.Category] > p.Before.CategoryLevels[p.Category]
}

// ══════════════════════════════════════════════════════════════════════════════
// SIGNALS
// ══════════════════════════════════════════════════════════════════════════════

// Signal - данные вне записи прогресса (серии, количество выполненных
// действий), которые передаёт вызывающий домен.
type Signal struct {
	Streak    *int `json:"streak,omitempty"`
	Completed *int `json:"completed,omitempty"`
}

// Signals - сигналы по источникам (task, nutrition, weight).
type Signals map[string]Signal

// StreakFor возвращает серию для источника. Пустой источник означает
// максимум по всем источникам.
func (s Signals) StreakFor(source string) (int, bool) {
	if source != "" {
		sig, ok := s[source]
		if !ok || sig.Streak == nil {
			return 0, false
		}
		return *sig.Streak, true
	}

	best, found := 0, false
	for _, sig := range s {
		if sig.Streak != nil && (!found || *sig.Streak > best) {
			best, found = *sig.Streak, true
		}
	}
	return best, found
}

// CompletedFor returns the completed-action count for a source.
func (s Signals) CompletedFor(source string) (int, bool) {
	sig, ok := s[source]
	if !ok || sig.Completed == nil {
		return 0, false
	}
	return *sig.Completed, true
}

// Merge возвращает копию с добавленными сигналами; значения из other
// не перезаписывают уже заданные.
func (s Signals) Merge(other Signals) Signals {
	out := make(Signals, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		cur := out[k]
		if cur.Streak == nil {
			cur.Streak = v.Streak
		}
		if cur.Completed == nil {
			cur.Completed = v.Completed
		}
		out[k] = cur
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS & SUMMARIES
// ══════════════════════════════════════════════════════════════════════════════

// XpTransaction - неизменяемая запись журнала XP.
type XpTransaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Token       string    `json:"token"`
	Source      string    `json:"source"`
	Action      string    `json:"action"`
	Category    Category  `json:"category,omitempty"`
	Amount      int       `json:"amount"`
	Description string    `json:"description"`
	ReversalOf  string    `json:"reversal_of,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// IsReversal сообщает, отменяет ли транзакция другую.
func (t XpTransaction) IsReversal() bool {
	return t.ReversalOf != ""
}

// DayLayout - формат календарного дня в сводках.
const DayLayout = "2006-01-02"

// XpDailySummary - агрегат транзакций за календарный день.
type XpDailySummary struct {
	UserID     string           `json:"user_id"`
	Date       string           `json:"date"`
	TotalXP    int              `json:"total_xp"`
	Sources    map[string]int   `json:"sources"`
	Categories map[Category]int `json:"categories"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATION
// ══════════════════════════════════════════════════════════════════════════════

// Mutation - атомарное изменение записи, выраженное через дельты.
// Хранилище применяет её только если версия записи равна ExpectedVersion.
type Mutation struct {
	UserID          string
	ExpectedVersion int64

	// XPDelta - уже ограниченная дельта общего XP.
	XPDelta int
	// Level - общий уровень после применения.
	Level int

	Category       Category
	CategoryDelta  int
	CategoryLevel  int
	UnlockExercise string

	// Transaction обязательна: XP не меняется без записи в журнале.
	Transaction XpTransaction

	AddPending    []string
	RemovePending []string
	AddClaimed    []string

	At time.Time
}

// Validate проверяет согласованность мутации.
func (m Mutation) Validate() error {
	if m.UserID == "" {
		return shared.ErrInvalidUserID
	}
	if m.Transaction.Token == "" {
		return shared.ErrMissingToken
	}
	if m.Transaction.UserID != m.UserID {
		return shared.NewDomainError("progress", "Mutation.Validate", shared.ErrInvalidInput, "transaction belongs to another user")
	}
	if m.Transaction.Amount != m.XPDelta {
		return shared.NewDomainError("progress", "Mutation.Validate", shared.ErrInvalidState, "transaction amount differs from xp delta")
	}
	if m.Level < 1 {
		return shared.NewDomainError("progress", "Mutation.Validate", shared.ErrValueOutOfRange, "level must be >= 1")
	}
	if m.Category != "" && !m.Category.IsValid() {
		return shared.ErrUnknownCategory
	}
	for _, id := range m.AddPending {
		if slices.Contains(m.AddClaimed, id) {
			return shared.NewDomainError("progress", "Mutation.Validate", shared.ErrInvalidState, "achievement both pending and claimed: "+id)
		}
	}
	return nil
}

// ApplyTo применяет мутацию к записи. Проверку версии выполняет хранилище.
// Достижения: полученные никогда не возвращаются в ожидающие,
// ожидающие не дублируются.
func (m Mutation) ApplyTo(p *UserProgress) {
	p.TotalXP = max(0, p.TotalXP+m.XPDelta)
	p.Level = m.Level

	if m.Category != "" {
		p.CategoryXP[m.Category] = max(0, p.CategoryXP[m.Category]+m.CategoryDelta)
		cp := p.CategoryProgress[m.Category]
		cp.Level = m.CategoryLevel
		if cp.Level < 1 {
			cp.Level = 1
		}
		if m.UnlockExercise != "" && !slices.Contains(cp.UnlockedExercises, m.UnlockExercise) {
			cp.UnlockedExercises = append(cp.UnlockedExercises, m.UnlockExercise)
		}
		p.CategoryProgress[m.Category] = cp
	}

	for _, id := range m.AddClaimed {
		p.PendingAchievements = slices.DeleteFunc(p.PendingAchievements, func(s string) bool { return s == id })
		if !slices.Contains(p.Achievements, id) {
			p.Achievements = append(p.Achievements, id)
		}
	}
	for _, id := range m.RemovePending {
		p.PendingAchievements = slices.DeleteFunc(p.PendingAchievements, func(s string) bool { return s == id })
	}
	for _, id := range m.AddPending {
		if !slices.Contains(p.PendingAchievements, id) && !slices.Contains(p.Achievements, id) {
			p.PendingAchievements = append(p.PendingAchievements, id)
		}
	}

	p.Version++
	if !m.At.IsZero() {
		p.UpdatedAt = m.At
	}
}
