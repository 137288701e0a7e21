package repository

import "time"

// Problem is the read-only view of a problem used for grading.
type Problem struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	TimeLimitMs   int64      `json:"time_limit_ms"`
	MemoryLimitKB int64      `json:"memory_limit_kb"`
	CreatedAt     time.Time  `json:"created_at"`
	TestCases     []TestCase `json:"test_cases"`
}

// TestCase is one ordered input/expected output pair.
type TestCase struct {
	Ordinal        int    `json:"ordinal"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	IsSample       bool   `json:"is_sample"`
}
