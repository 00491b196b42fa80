package progress

import "github.com/mind-engage/learncore/internal/curriculum"

// floorPercent is floor(100*done/total), 0 when there is nothing to do.
func floorPercent(done, total int) int {
	if total <= 0 {
		return 0
	}
	if done > total {
		done = total
	}
	return 100 * done / total
}

// tally walks the active part of a course. Units are every task, plus every
// session without tasks, which counts as one lesson unit.
type tally struct {
	completed        int
	total            int
	completedTasks   []string
	completedLessons []string
	sprints          []SprintProgress
}

func (t tally) percent() int { return floorPercent(t.completed, t.total) }

func count(tree curriculum.CourseTree, passed, lessonsDone map[string]bool) tally {
	out := tally{completedTasks: []string{}, completedLessons: []string{}, sprints: []SprintProgress{}}
	for _, sp := range tree.Sprints {
		if !sp.Active {
			continue
		}
		spr := SprintProgress{SprintID: sp.ID, Name: sp.Name, Sessions: []SessionProgress{}}
		for _, se := range sp.Sessions {
			if !se.Active {
				continue
			}
			sep := SessionProgress{SessionID: se.ID, Name: se.Name, Lesson: se.IsLesson()}
			if se.IsLesson() {
				sep.Total = 1
				if lessonsDone[se.ID] {
					sep.Completed = 1
					out.completedLessons = append(out.completedLessons, se.ID)
				}
			} else {
				sep.Total = len(se.Tasks)
				for _, tk := range se.Tasks {
					if passed[tk.ID] {
						sep.Completed++
						out.completedTasks = append(out.completedTasks, tk.ID)
					}
				}
			}
			sep.Percent = floorPercent(sep.Completed, sep.Total)
			spr.Completed += sep.Completed
			spr.Total += sep.Total
			spr.Sessions = append(spr.Sessions, sep)
		}
		spr.Percent = floorPercent(spr.Completed, spr.Total)
		out.completed += spr.Completed
		out.total += spr.Total
		out.sprints = append(out.sprints, spr)
	}
	return out
}
