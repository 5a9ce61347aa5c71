package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Step 报告生成流水线中的步骤,取值固定为 step1..step5 且有序
type Step int

const (
	Step1 Step = iota + 1
	Step2
	Step3
	Step4
	Step5
)

// FirstStep 第一个步骤(同步执行)
const FirstStep = Step1

// LastStep 最后一个步骤
const LastStep = Step5

var stepNames = [...]string{"", "step1", "step2", "step3", "step4", "step5"}

// AllSteps 按执行顺序返回全部步骤
func AllSteps() []Step {
	return []Step{Step1, Step2, Step3, Step4, Step5}
}

// ParseStep 解析步骤名称(忽略大小写和首尾空白)
func ParseStep(name string) (Step, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for i := int(Step1); i <= int(Step5); i++ {
		if stepNames[i] == normalized {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("invalid step %q: must be one of step1..step5", name)
}

// Valid 是否为合法步骤
func (s Step) Valid() bool {
	return s >= Step1 && s <= Step5
}

// String 返回步骤名称
func (s Step) String() string {
	if !s.Valid() {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// Index 返回步骤序号 1..5
func (s Step) Index() int {
	return int(s)
}

// Next 返回下一个步骤,最后一个步骤返回 false
func (s Step) Next() (Step, bool) {
	if !s.Valid() || s == Step5 {
		return 0, false
	}
	return s + 1, true
}

// Progress 步骤完成后的进度百分比: step1→20 ... step5→100
func (s Step) Progress() int {
	if !s.Valid() {
		return 0
	}
	return int(s) * 20
}

// IsBackground 是否由后台流水线执行(step2..step5)
func (s Step) IsBackground() bool {
	return s > Step1 && s <= Step5
}

// Value 实现 driver.Valuer,以步骤名称存储
func (s Step) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid step value %d", int(s))
	}
	return s.String(), nil
}

// Scan 实现 sql.Scanner
func (s *Step) Scan(value interface{}) error {
	var name string
	switch v := value.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	case nil:
		*s = 0
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Step", value)
	}
	parsed, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON 序列化为步骤名称
func (s Step) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON 从步骤名称反序列化
func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
