package postgres

// Constraint names mapped to domain errors by the progress repository.
const (
	constraintUserToken    = "xp_transactions_user_token_key"
	constraintUserReversal = "xp_transactions_user_reversal_key"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id VARCHAR(128) PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    category_xp JSONB NOT NULL DEFAULT '{}'::jsonb,
    category_progress JSONB NOT NULL DEFAULT '{}'::jsonb,
    achievements JSONB NOT NULL DEFAULT '[]'::jsonb,
    pending_achievements JSONB NOT NULL DEFAULT '[]'::jsonb,
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (level >= 1)
);

CREATE TABLE IF NOT EXISTS xp_transactions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES user_progress(user_id) ON DELETE CASCADE,
    token VARCHAR(256) NOT NULL,
    source VARCHAR(50) NOT NULL,
    action VARCHAR(80) NOT NULL,
    category VARCHAR(20) NOT NULL DEFAULT '',
    amount INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reversal_of VARCHAR(256) NOT NULL DEFAULT '',
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT xp_transactions_user_token_key UNIQUE (user_id, token)
);

CREATE UNIQUE INDEX IF NOT EXISTS xp_transactions_user_reversal_key
    ON xp_transactions(user_id, reversal_of) WHERE reversal_of <> '';
CREATE INDEX IF NOT EXISTS idx_xp_transactions_user_occurred
    ON xp_transactions(user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_xp_transactions_occurred
    ON xp_transactions(occurred_at);
`

const migration001Down = `
DROP TABLE IF EXISTS xp_transactions;
DROP TABLE IF EXISTS user_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE DAILY SUMMARIES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS xp_daily_summaries (
    user_id VARCHAR(128) NOT NULL,
    day VARCHAR(10) NOT NULL,
    total_xp INTEGER NOT NULL,
    sources JSONB NOT NULL DEFAULT '{}'::jsonb,
    categories JSONB NOT NULL DEFAULT '{}'::jsonb,

    PRIMARY KEY (user_id, day),
    CONSTRAINT valid_day CHECK (day ~ '^\d{4}-\d{2}-\d{2}$')
);
`

const migration002Down = `
DROP TABLE IF EXISTS xp_daily_summaries;
`
