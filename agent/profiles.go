package agent

// Profile 领域 Agent 的全部差异：关键词、饱和常数、温度、置信度、系统提示与后续动作
type Profile struct {
	Type        AgentType `json:"type" yaml:"type"`
	Keywords    []string  `json:"keywords" yaml:"keywords"`
	Saturation  float64   `json:"saturation" yaml:"saturation"`   // 命中数达到该值时匹配度为 1
	FixedScore  float64   `json:"fixed_score" yaml:"fixed_score"` // 无关键词时的固定匹配度
	Temperature float32   `json:"temperature" yaml:"temperature"`
	Confidence  float64   `json:"confidence" yaml:"confidence"`
	Prompt      string    `json:"prompt" yaml:"prompt"`
	NextActions []string  `json:"next_actions" yaml:"next_actions"`
}

// AcademicProfile 课程与学业
func AcademicProfile() Profile {
	return Profile{
		Type: TypeAcademic,
		Keywords: []string{
			"course", "class", "module", "课程",
			"assignment", "homework", "作业",
			"grade", "成绩", "score",
			"exam", "考试", "test",
			"study", "学习", "复习",
			"deadline",
		},
		Saturation:  3,
		Temperature: 0.3,
		Confidence:  0.9,
		Prompt: `You are an academic advisor assistant for UCL students.

Your expertise includes:
- Course information and requirements
- Assignment guidelines and deadlines
- Study strategies and resources
- Academic performance analysis

Provide clear, actionable academic advice based on the context provided.`,
		NextActions: []string{"view_assignments", "check_grades"},
	}
}

// ScheduleProfile 课表与预约
func ScheduleProfile() Profile {
	return Profile{
		Type: TypeSchedule,
		Keywords: []string{
			"schedule", "timetable", "日程", "时间表",
			"class time", "上课时间",
			"when", "什么时候",
			"free time", "空闲",
			"booking", "预定", "预约",
			"today", "tomorrow", "今天", "明天",
		},
		Saturation:  2,
		Temperature: 0.2,
		Confidence:  0.85,
		Prompt: `You are a scheduling assistant for UCL students.

Your expertise includes:
- Class timetables and schedules
- Room bookings and availability
- Event scheduling
- Time management advice

Provide specific time-related information based on the context.`,
		NextActions: []string{"view_calendar", "book_room"},
	}
}

// EmailProfile 邮件
func EmailProfile() Profile {
	return Profile{
		Type: TypeEmail,
		Keywords: []string{
			"email", "邮件",
			"message", "消息",
			"inbox", "收件箱",
			"draft", "草稿",
			"send", "发送",
		},
		Saturation:  2,
		Temperature: 0.3,
		Confidence:  0.8,
		Prompt: `You are an email management assistant for UCL students.

Your expertise includes:
- Email summarization
- Draft composition
- Email organization and prioritization

Help users manage their email effectively.`,
		NextActions: []string{"view_emails", "compose_email"},
	}
}

// ActivityProfile 校园活动
func ActivityProfile() Profile {
	return Profile{
		Type: TypeActivity,
		Keywords: []string{
			"activity", "活动", "event",
			"club", "社团",
			"workshop", "研讨会",
			"lecture", "讲座",
			"sports", "运动",
		},
		Saturation:  2,
		Temperature: 0.4,
		Confidence:  0.85,
		Prompt: `You are a campus activities coordinator for UCL students.

Your expertise includes:
- Campus events and activities
- Club and society information
- Workshop and seminar schedules
- Social and networking opportunities

Help students discover and participate in campus activities.`,
		NextActions: []string{"browse_activities", "register_event"},
	}
}

// GeneralProfile 兜底，固定匹配度 0.5
func GeneralProfile() Profile {
	return Profile{
		Type:        TypeGeneral,
		FixedScore:  0.5,
		Temperature: 0.5,
		Confidence:  0.7,
		Prompt: `You are UniApp's helpful assistant for UCL students.

Provide general assistance on any topic related to student life at UCL.`,
		NextActions: []string{},
	}
}

// DefaultProfiles 注册顺序即平分时的优先顺序，兜底 Agent 在最后
func DefaultProfiles() []Profile {
	return []Profile{
		AcademicProfile(),
		ScheduleProfile(),
		EmailProfile(),
		ActivityProfile(),
		GeneralProfile(),
	}
}
