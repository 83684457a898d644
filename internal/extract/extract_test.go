// File: internal/extract/extract_test.go
package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBlock = `Órgão Autuador: DETRAN-RJ
Órgão Competente/Responsável: DETRAN-RJ
Local da Infração: AV BRASIL, KM 22
Data/Hora do Cometimento da Infração: 12/03/2026 14:35
Número do Auto de Infração: E123456789
Código da Infração: 74550
Número RENAINF: T123456789
Valor Original: R$ 195,23
Data da Notificação de Autuação: 20/03/2026
Data Limite para Interposição de Defesa Prévia: 30/04/2026
Data Limite para Identificação do Condutor Infrator: 30/04/2026
Data da Notificação de Penalidade: 15/05/2026
Data Limite para Interposição de Recurso: 20/06/2026
Data do Vencimento do Desconto: 10/06/2026`

func TestParseBlockFullRecord(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	record, ok := ParseBlock(sampleBlock, "ABC1234", now)
	require.True(t, ok)

	assert.Equal(t, "T123456789", record.Renainf)
	assert.Equal(t, "ABC1234", record.VehiclePlate)
	assert.Equal(t, "DETRAN-RJ", record.OrgaoAutuador)
	assert.Equal(t, "DETRAN-RJ", record.OrgaoCompetente)
	assert.Equal(t, "AV BRASIL, KM 22", record.LocalInfracao)
	assert.Equal(t, "12/03/2026 14:35", record.DataHoraCometimento)
	assert.Equal(t, "E123456789", record.NumeroAuto)
	assert.Equal(t, "74550", record.CodigoInfracao)
	assert.Equal(t, "R$ 195,23", record.ValorOriginal)
	assert.Equal(t, "20/03/2026", record.DataNotificacaoAutuacao)
	assert.Equal(t, "30/04/2026", record.DataLimiteDefesaPrevia)
	assert.Equal(t, "30/04/2026", record.DataLimiteIdentificacao)
	assert.Equal(t, "15/05/2026", record.DataNotificacaoPenalidade)
	assert.Equal(t, "20/06/2026", record.DataLimiteRecurso)
	assert.Equal(t, "10/06/2026", record.DataVencimentoDesconto)
	assert.Equal(t, now, record.ScrapedAt)
}

func TestParseBlockLabelOnOwnLine(t *testing.T) {
	block := "Número RENAINF\nT987654321\nValor Original\nR$ 88,38"
	record, ok := ParseBlock(block, "XYZ9A87", time.Now())
	require.True(t, ok)
	assert.Equal(t, "T987654321", record.Renainf)
	assert.Equal(t, "R$ 88,38", record.ValorOriginal)
}

func TestParseBlockFallsBackToNoticeNumber(t *testing.T) {
	block := "Número do Auto de Infração: E000111222\nValor Original: R$ 130,16"
	record, ok := ParseBlock(block, "ABC1234", time.Now())
	require.True(t, ok)
	assert.Equal(t, "auto:E000111222", record.Renainf)
	assert.Empty(t, record.NumeroRenainf)
}

func TestParseBlockWithoutIdentityIsRejected(t *testing.T) {
	block := "Valor Original: R$ 130,16\nLocal da Infração: RUA A"
	_, ok := ParseBlock(block, "ABC1234", time.Now())
	assert.False(t, ok)
}

func TestParseBlockCollapsesWhitespace(t *testing.T) {
	block := "Local da Infração: AV    PRESIDENTE   VARGAS,  1000"
	block += "\nNúmero RENAINF: T1"
	record, ok := ParseBlock(block, "ABC1234", time.Now())
	require.True(t, ok)
	assert.Equal(t, "AV PRESIDENTE VARGAS, 1000", record.LocalInfracao)
}

func TestPlateFromText(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"legacy with dash", "ABC-1234 VOLKSWAGEN GOL 2013", "ABC1234"},
		{"legacy without dash", "ABC1234 FIAT UNO", "ABC1234"},
		{"mercosul", "Veículo XYZ9A87 FIAT ARGO", "XYZ9A87"},
		{"lowercase input", "abc-1234 gol", "ABC1234"},
		{"no plate", "Exibir 10 itens por página", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PlateFromText(tc.text))
		})
	}
}
