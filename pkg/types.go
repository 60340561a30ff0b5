package pkg

import (
	"strings"
	"time"
)

// User is the account behind a patient record.  TelegramUsername is the chat
// handle used to reach the patient and to place voice calls.
type User struct {
	ID               string     `json:"ID"`
	PhoneNumber      string     `json:"PhoneNumber"`
	FirstName        string     `json:"FirstName"`
	LastName         string     `json:"LastName"`
	Role             string     `json:"Role"`
	Gender           string     `json:"Gender"`
	IsActive         bool       `json:"IsActive"`
	TelegramUsername string     `json:"TelegramUsername"`
	LastLoginAt      *time.Time `json:"LastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"CreatedAt"`
	UpdatedAt        time.Time  `json:"UpdatedAt"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Medication is one entry of the patient's current medication list.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Instructions string `json:"instructions"`
}

// CurrentMedications wraps the medication list as the backend returns it.
type CurrentMedications struct {
	Medications []Medication `json:"medications"`
}

// BaselineVitals are the reference vitals recorded at discharge.
type BaselineVitals struct {
	HeartRate        int     `json:"heart_rate"`
	Temperature      float64 `json:"temperature"`
	BloodPressure    string  `json:"blood_pressure"`
	RespiratoryRate  int     `json:"respiratory_rate"`
	OxygenSaturation int     `json:"oxygen_saturation"`
}

// Patient is the clinical profile supplied by the backend.  The engine treats
// it as read-only.
type Patient struct {
	ID                       string             `json:"ID"`
	UserID                   string             `json:"UserID"`
	DoctorID                 string             `json:"DoctorID"`
	ConditionSummary         string             `json:"ConditionSummary"`
	Comorbidities            []string           `json:"Comorbidities"`
	CurrentMedications       CurrentMedications `json:"CurrentMedications"`
	Allergies                []string           `json:"Allergies"`
	BaselineVitals           BaselineVitals     `json:"BaselineVitals"`
	RiskLevel                string             `json:"RiskLevel"`
	MonitoringFrequency      string             `json:"MonitoringFrequency"`
	Status                   string             `json:"Status"`
	DischargeDate            *time.Time         `json:"DischargeDate,omitempty"`
	DischargeNotes           *string            `json:"DischargeNotes,omitempty"`
	EmergencyContactName     string             `json:"EmergencyContactName"`
	EmergencyContactPhone    string             `json:"EmergencyContactPhone"`
	EmergencyContactRelation string             `json:"EmergencyContactRelation"`
	User                     User               `json:"User"`
}

// PatientRef is the lightweight record returned by the username lookup.
type PatientRef struct {
	ID               string `json:"ID"`
	TelegramUsername string `json:"TelegramUsername"`
	PhoneNumber      string `json:"PhoneNumber"`
	FirstName        string `json:"FirstName"`
}

// PriorAnswer is one answer of a historical check-in.
type PriorAnswer struct {
	Seq    int    `json:"seq"`
	Answer string `json:"answer"`
}

// PriorQuestion is one question of a historical check-in.
type PriorQuestion struct {
	Seq      int    `json:"seq"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Checkin is a historical check-in as returned with the patient history.
type Checkin struct {
	ID          string          `json:"ID"`
	Status      string          `json:"Status"`
	CompletedAt string          `json:"CompletedAt"`
	UpdatedAt   string          `json:"UpdatedAt"`
	Questions   []PriorQuestion `json:"Questions"`
	Answers     []PriorAnswer   `json:"Answers"`
}

// VitalReading is a single measurement reported after discharge.  The shape
// varies by device so it is kept loose.
type VitalReading map[string]any

// PatientHistory bundles the full patient record with prior check-ins and
// recent vitals.
type PatientHistory struct {
	Patient  *Patient
	Checkins []Checkin
	Vitals   []VitalReading
}

// Question is one item of a generated check-in question set.
type Question struct {
	Seq      int    `json:"seq"`
	Category string `json:"category"`
	Text     string `json:"question"`
}

// Answer records a patient reply against the question it answers.
type Answer struct {
	Seq      int    `json:"seq"`
	Category string `json:"category"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QuestionItem is the backend payload for posted questions.
type QuestionItem struct {
	Text     string `json:"text"`
	Seq      int    `json:"seq"`
	Category string `json:"category"`
}

// AnswerItem is the backend payload for posted answers.
type AnswerItem struct {
	Seq    int    `json:"seq"`
	Answer string `json:"answer"`
}

// Analysis is the clinician-facing payload patched onto a finished check-in.
type Analysis struct {
	AIAnalysis    AIAnalysis `json:"ai_analysis"`
	MedicalStatus string     `json:"medical_status"`
	RiskScore     int        `json:"risk_score"`
	Alert         Alert      `json:"alert"`
}

// AIAnalysis carries the generated note.
type AIAnalysis struct {
	Summary   string   `json:"summary"`
	NextSteps []string `json:"next_steps"`
}

// Alert is raised against the check-in with a severity from the risk mapping.
type Alert struct {
	Severity  string       `json:"severity"`
	AlertType string       `json:"alert_type"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	Details   AlertDetails `json:"details"`
}

// AlertDetails repeats the note for alert consumers.
type AlertDetails struct {
	Overall   string   `json:"overall"`
	NextSteps []string `json:"next_steps"`
}

// TriageSummary is the structured result of the emergency triage prompt.
type TriageSummary struct {
	TriageLevel     string `json:"triage_level"`
	BriefAssessment string `json:"brief_assessment"`
	FirstAidAdvice  string `json:"first_aid_advice"`
	NextAction      string `json:"next_action"`
}

// MediaKind classifies an inbound attachment.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVoice    MediaKind = "voice"
	MediaLocation MediaKind = "location"
	MediaOther    MediaKind = "other"
)

// Media is an attachment on an inbound chat message.  FileID is the
// transport's handle for downloading it.
type Media struct {
	Kind      MediaKind
	FileID    string
	MIME      string
	Latitude  float64
	Longitude float64
}

// InboundMessage is a patient message as delivered by the chat transport.
// Key identifies the conversation.
type InboundMessage struct {
	Key      string
	SenderID string
	Username string
	Text     string
	Media    *Media
}

// Escalation kinds.
const (
	EscalationTriage   = "triage"
	EscalationLocation = "location"
)

// Escalation is an emergency event announced to the care team.
type Escalation struct {
	Kind            string  `json:"kind"`
	ConversationKey string  `json:"conversation_key"`
	PatientID       string  `json:"patient_id,omitempty"`
	TriageLevel     string  `json:"triage_level,omitempty"`
	Assessment      string  `json:"assessment,omitempty"`
	MediaObject     string  `json:"media_object,omitempty"`
	Latitude        float64 `json:"latitude,omitempty"`
	Longitude       float64 `json:"longitude,omitempty"`
}
