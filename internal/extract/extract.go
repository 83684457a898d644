// File: internal/extract/extract.go
// Package extract parses fine records out of rendered detail pages. The
// portal presents fines as labeled field blocks in Portuguese; extraction
// is label anchored text scanning, not DOM structure, because the portal
// reshuffles its markup between Angular releases.
package extract

import (
	"regexp"
	"strings"
	"time"
)

// FineRecord is one traffic fine as presented by the portal. String fields
// keep the portal's own formatting (dates and currency included); parsing
// those is a consumer concern.
type FineRecord struct {
	Renainf                   string    `json:"renainf"`
	VehiclePlate              string    `json:"vehicle_plate"`
	OrgaoAutuador             string    `json:"orgao_autuador"`
	OrgaoCompetente           string    `json:"orgao_competente"`
	LocalInfracao             string    `json:"local_infracao"`
	DataHoraCometimento       string    `json:"data_hora_cometimento"`
	NumeroAuto                string    `json:"numero_auto"`
	CodigoInfracao            string    `json:"codigo_infracao"`
	NumeroRenainf             string    `json:"numero_renainf"`
	ValorOriginal             string    `json:"valor_original"`
	DataNotificacaoAutuacao   string    `json:"data_notificacao_autuacao"`
	DataLimiteDefesaPrevia    string    `json:"data_limite_defesa_previa"`
	DataLimiteIdentificacao   string    `json:"data_limite_identificacao_condutor"`
	DataNotificacaoPenalidade string    `json:"data_notificacao_penalidade"`
	DataLimiteRecurso         string    `json:"data_limite_recurso"`
	DataVencimentoDesconto    string    `json:"data_vencimento_desconto"`
	ScrapedAt                 time.Time `json:"scraped_at"`
}

// fieldSpec binds a portal label to its destination field.
type fieldSpec struct {
	label  string
	assign func(*FineRecord, string)
}

// fieldSpecs covers every labeled field the portal renders for a fine.
// Longer labels come before their prefixes so "Data da Notificação de
// Autuação" never matches as a bare "Data".
var fieldSpecs = []fieldSpec{
	{"Órgão Autuador", func(r *FineRecord, v string) { r.OrgaoAutuador = v }},
	{"Órgão Competente/Responsável", func(r *FineRecord, v string) { r.OrgaoCompetente = v }},
	{"Local da Infração", func(r *FineRecord, v string) { r.LocalInfracao = v }},
	{"Data/Hora do Cometimento da Infração", func(r *FineRecord, v string) { r.DataHoraCometimento = v }},
	{"Número do Auto de Infração", func(r *FineRecord, v string) { r.NumeroAuto = v }},
	{"Código da Infração", func(r *FineRecord, v string) { r.CodigoInfracao = v }},
	{"Número RENAINF", func(r *FineRecord, v string) { r.NumeroRenainf = v }},
	{"Valor Original", func(r *FineRecord, v string) { r.ValorOriginal = v }},
	{"Data da Notificação de Autuação", func(r *FineRecord, v string) { r.DataNotificacaoAutuacao = v }},
	{"Data Limite para Interposição de Defesa Prévia", func(r *FineRecord, v string) { r.DataLimiteDefesaPrevia = v }},
	{"Data Limite para Identificação do Condutor Infrator", func(r *FineRecord, v string) { r.DataLimiteIdentificacao = v }},
	{"Data da Notificação de Penalidade", func(r *FineRecord, v string) { r.DataNotificacaoPenalidade = v }},
	{"Data Limite para Interposição de Recurso", func(r *FineRecord, v string) { r.DataLimiteRecurso = v }},
	{"Data do Vencimento do Desconto", func(r *FineRecord, v string) { r.DataVencimentoDesconto = v }},
}

// labelPatterns is fieldSpecs compiled once. Each label matches either
// "Label: value" on one line or the label alone with the value on the
// following line.
var labelPatterns = compileLabelPatterns()

type labelPattern struct {
	spec     fieldSpec
	sameLine *regexp.Regexp
	nextLine *regexp.Regexp
}

func compileLabelPatterns() []labelPattern {
	patterns := make([]labelPattern, 0, len(fieldSpecs))
	for _, spec := range fieldSpecs {
		quoted := regexp.QuoteMeta(spec.label)
		patterns = append(patterns, labelPattern{
			spec:     spec,
			sameLine: regexp.MustCompile(`(?im)^\s*` + quoted + `\s*:\s*(\S[^\n]*)`),
			nextLine: regexp.MustCompile(`(?im)^\s*` + quoted + `\s*:?\s*\n\s*(\S[^\n]*)`),
		})
	}
	return patterns
}

// Plate formats accepted on list items: the pre 2018 AAA-9999 form (dash
// optional in portal text) and the Mercosul AAA9A99 form.
var (
	legacyPlatePattern   = regexp.MustCompile(`\b([A-Z]{3})-?(\d{4})\b`)
	mercosulPlatePattern = regexp.MustCompile(`\b[A-Z]{3}\d[A-Z]\d{2}\b`)
)

// PlateFromText pulls a vehicle plate out of free text, normalized without
// a dash. Mercosul is tried first; any legacy match would also shadow a
// Mercosul plate's first seven characters otherwise.
func PlateFromText(text string) string {
	upper := strings.ToUpper(text)
	if m := mercosulPlatePattern.FindString(upper); m != "" {
		return m
	}
	if m := legacyPlatePattern.FindStringSubmatch(upper); m != nil {
		return m[1] + m[2]
	}
	return ""
}

// ParseBlock scans one fine block's text into a record. It returns false
// when the block yields no usable identity, meaning neither a RENAINF
// number nor an infraction notice number was present.
func ParseBlock(text, plate string, now time.Time) (FineRecord, bool) {
	record := FineRecord{
		VehiclePlate: plate,
		ScrapedAt:    now,
	}

	for _, p := range labelPatterns {
		value := firstCapture(p.sameLine, text)
		if value == "" {
			value = firstCapture(p.nextLine, text)
		}
		if value == "" {
			continue
		}
		p.spec.assign(&record, cleanValue(value))
	}

	switch {
	case record.NumeroRenainf != "":
		record.Renainf = record.NumeroRenainf
	case record.NumeroAuto != "":
		// The notice number stands in when the portal omits RENAINF,
		// prefixed so the two key spaces cannot collide.
		record.Renainf = "auto:" + record.NumeroAuto
	default:
		return FineRecord{}, false
	}

	return record, true
}

func firstCapture(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// cleanValue collapses whitespace runs the renderer leaves behind.
func cleanValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
