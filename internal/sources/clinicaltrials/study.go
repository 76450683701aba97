package clinicaltrials

// Study is the normalized form of one trial record.
type Study struct {
	NCTID               string           `json:"nct_id"`
	Title               string           `json:"title"`
	OrgStudyID          string           `json:"org_study_id"`
	OverallStatus       string           `json:"overall_status"`
	StartDate           string           `json:"start_date"`
	CompletionDate      string           `json:"completion_date"`
	LeadSponsor         string           `json:"lead_sponsor"`
	BriefSummary        string           `json:"brief_summary"`
	DetailedDescription string           `json:"detailed_description"`
	Conditions          []string         `json:"conditions"`
	Interventions       []Intervention   `json:"interventions"`
	PrimaryOutcomes     []map[string]any `json:"primary_outcomes"`
	SecondaryOutcomes   []map[string]any `json:"secondary_outcomes"`
	StudyType           string           `json:"study_type"`
	Phases              []string         `json:"phases"`
	DesignInfo          map[string]any   `json:"design_info"`
	EligibilityCriteria string           `json:"eligibility_criteria"`
	Sex                 string           `json:"sex"`
	MinAge              string           `json:"min_age"`
	MaxAge              string           `json:"max_age"`
}

// Intervention is one treatment arm entry.
type Intervention struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// studyJSON mirrors the slice of the v2 API response we consume.
type studyJSON struct {
	ProtocolSection struct {
		Identification struct {
			NCTID          string `json:"nctId"`
			BriefTitle     string `json:"briefTitle"`
			OfficialTitle  string `json:"officialTitle"`
			OrgStudyIDInfo struct {
				ID string `json:"id"`
			} `json:"orgStudyIdInfo"`
		} `json:"identificationModule"`
		Status struct {
			OverallStatus   string `json:"overallStatus"`
			StartDateStruct struct {
				Date string `json:"date"`
			} `json:"startDateStruct"`
			CompletionDateStruct struct {
				Date string `json:"date"`
			} `json:"completionDateStruct"`
		} `json:"statusModule"`
		Sponsor struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
		Description struct {
			BriefSummary        string `json:"briefSummary"`
			DetailedDescription string `json:"detailedDescription"`
		} `json:"descriptionModule"`
		Conditions struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		ArmsInterventions struct {
			Interventions []Intervention `json:"interventions"`
		} `json:"armsInterventionsModule"`
		Outcomes struct {
			PrimaryOutcomes   []map[string]any `json:"primaryOutcomes"`
			SecondaryOutcomes []map[string]any `json:"secondaryOutcomes"`
		} `json:"outcomesModule"`
		Design struct {
			StudyType  string         `json:"studyType"`
			Phases     []string       `json:"phases"`
			DesignInfo map[string]any `json:"designInfo"`
		} `json:"designModule"`
		Eligibility struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
			Sex                 string `json:"sex"`
			MinimumAge          string `json:"minimumAge"`
			MaximumAge          string `json:"maximumAge"`
		} `json:"eligibilityModule"`
	} `json:"protocolSection"`
}

// normalize flattens the module tree into a Study. The official title
// is preferred over the brief one when both are present.
func (s studyJSON) normalize() *Study {
	p := s.ProtocolSection

	title := p.Identification.OfficialTitle
	if title == "" {
		title = p.Identification.BriefTitle
	}

	return &Study{
		NCTID:               p.Identification.NCTID,
		Title:               title,
		OrgStudyID:          p.Identification.OrgStudyIDInfo.ID,
		OverallStatus:       p.Status.OverallStatus,
		StartDate:           p.Status.StartDateStruct.Date,
		CompletionDate:      p.Status.CompletionDateStruct.Date,
		LeadSponsor:         p.Sponsor.LeadSponsor.Name,
		BriefSummary:        p.Description.BriefSummary,
		DetailedDescription: p.Description.DetailedDescription,
		Conditions:          p.Conditions.Conditions,
		Interventions:       p.ArmsInterventions.Interventions,
		PrimaryOutcomes:     p.Outcomes.PrimaryOutcomes,
		SecondaryOutcomes:   p.Outcomes.SecondaryOutcomes,
		StudyType:           p.Design.StudyType,
		Phases:              p.Design.Phases,
		DesignInfo:          p.Design.DesignInfo,
		EligibilityCriteria: p.Eligibility.EligibilityCriteria,
		Sex:                 p.Eligibility.Sex,
		MinAge:              p.Eligibility.MinimumAge,
		MaxAge:              p.Eligibility.MaximumAge,
	}
}
