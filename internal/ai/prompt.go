package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ayupilot/genjobs/pkg/models"
)

const systemPrompt = "You are AyuPilot, an expert Ayurvedic healthcare assistant. " +
	"You provide accurate, clinically grounded content for practitioners. " +
	"Answer in well-structured plain text with the exact sections requested."

// BuildRequest renders the inference request for a job from its immutable
// input payload. Each kind has its own output contract so the result can be
// rendered directly by the UI.
func BuildRequest(kind models.JobKind, payload json.RawMessage) (models.InferenceRequest, error) {
	var in models.JobInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return models.InferenceRequest{}, fmt.Errorf("decode input payload: %w", err)
	}

	var b strings.Builder
	writeSubject(&b, in.Subject)

	switch kind {
	case models.KindClinicalReport:
		b.WriteString("Generate a clinical intelligence report with these sections:\n")
		b.WriteString("PATIENT OVERVIEW, KEY CLINICAL FINDINGS, CURRENT HEALTH STATUS, ")
		b.WriteString("PRIMARY DOSHA IMBALANCE, DIAGNOSTIC SUMMARY, FOLLOW-UP RECOMMENDATION.\n")

	case models.KindSNLPrescription:
		b.WriteString("Generate an SNL prescription with these sections:\n")
		b.WriteString("SUPPLEMENTS & FORMULATIONS (name, dose, frequency), ")
		b.WriteString("NUTRITION PLAN (foods to include, foods to avoid), ")
		b.WriteString("LIFESTYLE RECOMMENDATIONS (wake time, exercise, sleep).\n")
		if in.DocumentContext != "" {
			b.WriteString("\nLatest analyzed report for this patient:\n")
			b.WriteString(in.DocumentContext)
			b.WriteString("\n")
		}

	case models.KindKnowledgeReference:
		b.WriteString("Generate knowledge base references with these sections:\n")
		b.WriteString("CLASSICAL REFERENCES (Charaka Samhita, Sushruta Samhita and other classical texts), ")
		b.WriteString("CLINICAL STUDIES (title, journal, year).\n")

	case models.KindImageAnalysis:
		fmt.Fprintf(&b, "Analyze the uploaded %s image stored at %s and describe the clinically relevant findings.\n",
			orUnknown(in.FileType), in.FileURI)

	case models.KindDocumentAnalysis:
		fmt.Fprintf(&b, "Analyze the uploaded %s document %q stored at %s and summarize its clinically relevant content.\n",
			orUnknown(in.FileType), in.FileName, in.FileURI)

	default:
		return models.InferenceRequest{}, fmt.Errorf("no prompt template for job kind %q", kind)
	}

	if len(in.Answers) > 0 {
		b.WriteString("\nIntake form answers:\n")
		// deterministic rendering keeps the prompt stable for identical inputs
		answers, err := json.Marshal(in.Answers)
		if err != nil {
			return models.InferenceRequest{}, fmt.Errorf("encode answers: %w", err)
		}
		b.Write(answers)
		b.WriteString("\n")
	}

	return models.InferenceRequest{
		System: systemPrompt,
		Prompt: b.String(),
	}, nil
}

func writeSubject(b *strings.Builder, s models.SubjectSnapshot) {
	fmt.Fprintf(b, "Patient: %s, Age: %d, Gender: %s\n", s.Name, s.Age, s.Gender)
	if s.ChiefComplaints != nil && *s.ChiefComplaints != "" {
		fmt.Fprintf(b, "Chief Complaints: %s\n", *s.ChiefComplaints)
	}
	if s.MedicalHistory != nil && *s.MedicalHistory != "" {
		fmt.Fprintf(b, "Medical History: %s\n", *s.MedicalHistory)
	}
	b.WriteString("\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
