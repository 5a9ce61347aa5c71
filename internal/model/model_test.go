package model_test

import (
	"encoding/json"
	"testing"

	"github.com/mautops/report-gin/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseStep 测试步骤解析
func TestParseStep(t *testing.T) {
	for i, name := range []string{"step1", "STEP2", " Step3 ", "step4", "step5"} {
		step, err := model.ParseStep(name)
		require.NoError(t, err)
		assert.Equal(t, model.Step(i+1), step)
	}

	for _, name := range []string{"", "step0", "step6", "stepx", "1"} {
		_, err := model.ParseStep(name)
		assert.Error(t, err, name)
	}
}

// TestStep_ProgressMapping 测试步骤与进度的固定映射
func TestStep_ProgressMapping(t *testing.T) {
	expected := map[model.Step]int{
		model.Step1: 20,
		model.Step2: 40,
		model.Step3: 60,
		model.Step4: 80,
		model.Step5: 100,
	}
	for step, progress := range expected {
		assert.Equal(t, progress, step.Progress(), step.String())
	}
	assert.Equal(t, 0, model.Step(0).Progress())
}

// TestStep_Order 测试步骤的全序关系
func TestStep_Order(t *testing.T) {
	steps := model.AllSteps()
	require.Len(t, steps, 5)
	for i := 0; i < len(steps)-1; i++ {
		next, ok := steps[i].Next()
		require.True(t, ok)
		assert.Equal(t, steps[i+1], next)
		assert.Less(t, steps[i], steps[i+1])
	}
	_, ok := model.Step5.Next()
	assert.False(t, ok)

	assert.False(t, model.Step1.IsBackground())
	assert.True(t, model.Step2.IsBackground())
	assert.True(t, model.Step5.IsBackground())
}

// TestStep_ValueScan 测试数据库读写转换
func TestStep_ValueScan(t *testing.T) {
	v, err := model.Step3.Value()
	require.NoError(t, err)
	assert.Equal(t, "step3", v)

	_, err = model.Step(9).Value()
	assert.Error(t, err)

	var s model.Step
	require.NoError(t, s.Scan("step4"))
	assert.Equal(t, model.Step4, s)
	require.NoError(t, s.Scan([]byte("step2")))
	assert.Equal(t, model.Step2, s)
	assert.Error(t, s.Scan(42))
}

// TestStep_JSON 测试 JSON 序列化
func TestStep_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Step model.Step `json:"step"`
	}{Step: model.Step2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"step2"}`, string(data))

	var out struct {
		Step model.Step `json:"step"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"step":"step5"}`), &out))
	assert.Equal(t, model.Step5, out.Step)
	assert.Error(t, json.Unmarshal([]byte(`{"step":"step7"}`), &out))
}

// TestPublishStatus_String 测试发布状态名称
func TestPublishStatus_String(t *testing.T) {
	assert.Equal(t, "draft", model.PublishStatusDraft.String())
	assert.Equal(t, "published", model.PublishStatusPublished.String())
	assert.Equal(t, "archived", model.PublishStatusArchived.String())
	assert.Equal(t, "unknown", model.PublishStatus(7).String())
}

// TestReportTaskModel_Validate 测试任务模型校验
func TestReportTaskModel_Validate(t *testing.T) {
	task := &model.ReportTaskModel{
		TaskID:      "7c6b3a4e-1f6e-4b8f-9b7e-2d1c0a9e8f71",
		Title:       "年度报告",
		CompanyName: "示例公司",
		Status:      model.TaskStatusInProgress,
		CurrentStep: model.Step1,
	}
	assert.NoError(t, task.Validate())
	assert.False(t, task.HasEngineTask())
	assert.Equal(t, "", task.EngineID())

	engineID := "eng-1"
	task.EngineTaskID = &engineID
	assert.True(t, task.HasEngineTask())
	assert.Equal(t, "eng-1", task.EngineID())

	task.CurrentStep = 0
	assert.Error(t, task.Validate())
}

// TestStepHistoryModel_Validate 测试历史模型校验
func TestStepHistoryModel_Validate(t *testing.T) {
	h := &model.StepHistoryModel{TaskID: "t1", Step: model.Step2, Status: model.HistoryStatusSuccess}
	assert.NoError(t, h.Validate())
	assert.True(t, h.Succeeded())

	h.Status = "unknown"
	assert.Error(t, h.Validate())

	h.Status = model.HistoryStatusFailure
	h.ExecutionTime = -1
	assert.Error(t, h.Validate())
}

// TestTaskStatus_IsTerminal 测试终态判断
func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.False(t, model.TaskStatusPending.IsTerminal())
	assert.False(t, model.TaskStatusInProgress.IsTerminal())
	assert.True(t, model.TaskStatusCompleted.IsTerminal())
	assert.True(t, model.TaskStatusFailed.IsTerminal())
}
