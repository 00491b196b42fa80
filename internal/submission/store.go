package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/grading"
)

const cols = `id,task_id,session_id,course_id,learner_id,request_token,attempt,answers_json,results_json,answers_hash,score,passed,time_spent_sec,key_snapshot_json,schema_version,submitted_at`

type row struct {
	Submission
	hash string
}

func scanRow(sc interface{ Scan(...any) error }) (row, error) {
	var r row
	var answers, results, snapshot string
	var at int64
	err := sc.Scan(&r.ID, &r.TaskID, &r.SessionID, &r.CourseID, &r.LearnerID, &r.RequestToken, &r.Attempt,
		&answers, &results, &r.hash, &r.Score, &r.Passed, &r.TimeSpentSec, &snapshot, &r.SchemaVersion, &at)
	if err != nil {
		return row{}, err
	}
	if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
		return row{}, err
	}
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return row{}, err
	}
	if err := json.Unmarshal([]byte(snapshot), &r.KeySnapshot); err != nil {
		return row{}, err
	}
	r.SubmittedAt = time.UnixMilli(at).UTC()
	return r, nil
}

func insert(ctx context.Context, q db.Querier, r row) error {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return err
	}
	results, err := json.Marshal(r.Results)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(r.KeySnapshot)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO submissions (`+cols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.TaskID, r.SessionID, r.CourseID, r.LearnerID, r.RequestToken, r.Attempt,
		string(answers), string(results), r.hash, r.Score, r.Passed, r.TimeSpentSec, string(snapshot),
		r.SchemaVersion, r.SubmittedAt.UnixMilli())
	return db.Classify(err)
}

func queryOne(ctx context.Context, q db.Querier, where string, args ...any) (row, error) {
	r, err := scanRow(q.QueryRowContext(ctx, `SELECT `+cols+` FROM submissions WHERE `+where, args...))
	return r, db.Classify(err)
}

func byToken(ctx context.Context, q db.Querier, taskID, learnerID, token string) (row, error) {
	return queryOne(ctx, q, `task_id=$1 AND learner_id=$2 AND request_token=$3`, taskID, learnerID, token)
}

func latest(ctx context.Context, q db.Querier, taskID, learnerID string) (row, error) {
	return queryOne(ctx, q, `task_id=$1 AND learner_id=$2 ORDER BY attempt DESC LIMIT 1`, taskID, learnerID)
}

func nextAttempt(ctx context.Context, q db.Querier, taskID, learnerID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(attempt),0)+1 FROM submissions WHERE task_id=$1 AND learner_id=$2`,
		taskID, learnerID).Scan(&n)
	return n, db.Classify(err)
}

func list(ctx context.Context, q db.Querier, where string, args ...any) ([]Submission, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+cols+` FROM submissions WHERE `+where, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, r.Submission)
	}
	return out, db.Classify(rows.Err())
}

// hashAnswers fingerprints an answer set independent of map iteration and
// of option order within an answer.
func hashAnswers(a grading.Answers) string {
	idx := make([]int, 0, len(a))
	for i := range a {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	h := sha256.New()
	for _, i := range idx {
		vals := make([]string, len(a[i]))
		for j, v := range a[i] {
			vals[j] = strings.TrimSpace(v)
		}
		sort.Strings(vals)
		b, _ := json.Marshal(vals)
		h.Write([]byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)})
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}
