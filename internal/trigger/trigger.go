package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/datafetch/scheduler/internal/biz/task"
)

// ErrInvalidSchedule 调度表达式非法
var ErrInvalidSchedule = errors.New("invalid schedule expression")

type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOnce     Kind = "once"
)

// Spec 由任务定义推导出的具体触发规则，不落库
type Spec struct {
	Kind Kind
	// CronExpression 标准5段cron表达式，Kind为cron时有效
	CronExpression string
	// Every 固定间隔，Kind为interval时有效
	Every time.Duration
}

var dailyPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// Translate 将任务的调度类型与表达式翻译为触发规则。
// 纯函数，相同输入恒得相同输出。
func Translate(scheduleType task.ScheduleType, expression string) (Spec, error) {
	switch scheduleType {
	case task.ScheduleTypeCron, task.ScheduleTypeWeekly, task.ScheduleTypeMonthly:
		return Spec{Kind: KindCron, CronExpression: expression}, nil

	case task.ScheduleTypeDaily:
		if m := dailyPattern.FindStringSubmatch(strings.TrimSpace(expression)); m != nil {
			return Spec{
				Kind:           KindCron,
				CronExpression: fmt.Sprintf("%s %s * * *", m[2], m[1]),
			}, nil
		}
		// 非HH:MM格式按原始cron表达式处理
		return Spec{Kind: KindCron, CronExpression: expression}, nil

	case task.ScheduleTypeInterval:
		every, err := parseInterval(expression)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindInterval, Every: every}, nil

	default:
		return Spec{Kind: KindOnce}, nil
	}
}

// parseInterval 解析 "30s"/"5m"/"1h"/"2d" 形式的间隔，无后缀按分钟处理
func parseInterval(expression string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(expression))
	if s == "" {
		return 0, fmt.Errorf("%w: empty interval", ErrInvalidSchedule)
	}

	unit := time.Minute
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
		s = s[:len(s)-1]
	case 'm':
		unit = time.Minute
		s = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		s = s[:len(s)-1]
	case 'd':
		unit = 24 * time.Hour
		s = s[:len(s)-1]
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSchedule, expression)
	}
	return time.Duration(n) * unit, nil
}
