package exchange

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/exchangebot/internal/chat"
)

const (
	buttonBuy    = "📈 Comprar %s"
	buttonSell   = "📉 Vender %s"
	buttonOther  = "Otro monto"
	buttonYes    = "👍 Sí, confirmar"
	buttonNo     = "👎 No, cancelar"
	separatorRow = "-------------------------------------"
)

const (
	msgWelcome        = "🏦 ¡Bienvenido al módulo de cambio! ¿Qué operación deseas realizar hoy?"
	msgPickAction     = "Por favor, elige una de las opciones del teclado: comprar o vender."
	msgPickAmount     = "Perfecto. ¿Qué cantidad de saldo %s deseas %s?"
	msgInvalidPreset  = "Por favor, selecciona un monto válido del teclado."
	msgAskCustom      = "Por favor, ingresa el monto en USD que deseas cambiar:"
	msgInvalidCustom  = "Monto inválido. Por favor, ingresa un número mayor a cero (máximo dos decimales)."
	msgAmountTooHigh  = "El monto máximo por operación es $%s USD. Por favor, ingresa un monto menor."
	msgConfirmAgain   = "Por favor, responde con «👍 Sí, confirmar» o «👎 No, cancelar»."
	msgAskPayment     = "💸 ¡Genial! Para continuar, por favor, realiza el pago y envíame una captura de pantalla del comprobante."
	msgCancelled      = "❌ Operación cancelada. Si cambias de opinión, aquí estaré para ayudarte."
	msgNeedImage      = "Por favor, envíame una imagen del comprobante de pago."
	msgProcessing     = "🤖 Procesando tu comprobante... Esto puede tardar un momento, por favor espera."
	msgTechnical      = "⚠️ Ocurrió un error técnico al procesar tu comprobante. Por favor, inicia la operación de nuevo más tarde."
	msgExtractionFail = "No pude confirmar la referencia en la imagen: %s\nPuedes iniciar una nueva operación cuando quieras."
	msgRecorded       = "¡Verificación exitosa! ✨\n\nReferencia: %s\nTu operación quedó registrada como *Pendiente* y será revisada en breve."
)

func (m *Machine) actionKeyboard() chat.Keyboard {
	return chat.Keyboard{Rows: [][]string{
		{fmt.Sprintf(buttonBuy, m.currency), fmt.Sprintf(buttonSell, m.currency)},
		{chat.ButtonCancel},
	}}
}

func (m *Machine) amountKeyboard() chat.Keyboard {
	var rows [][]string
	var row []string
	for _, d := range m.denominations {
		row = append(row, "$"+strconv.Itoa(d))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []string{buttonOther}, []string{chat.ButtonCancel})
	return chat.Keyboard{Rows: rows}
}

func confirmKeyboard() chat.Keyboard {
	return chat.Keyboard{Rows: [][]string{{buttonYes, buttonNo}}, OneTime: true}
}

func (m *Machine) summary(action Action, q Quote) chat.Message {
	var b strings.Builder
	b.WriteString("🧾 *Resumen de tu Operación* 🧾\n\n")
	fmt.Fprintf(&b, "Acción: %s %s\n\n", action, m.currency)
	fmt.Fprintf(&b, "💰 Monto a recibir: *$%s USD*\n", money(q.AmountUSD))
	fmt.Fprintf(&b, "➕ Comisión del servicio: *$%s USD*\n\n", money(q.CommissionUSD))
	b.WriteString(separatorRow + "\n")
	fmt.Fprintf(&b, "💵 *Total a Pagar (USD): $%s*\n", money(q.TotalUSD))
	fmt.Fprintf(&b, "🇻🇪 *Total a Pagar (Bs.): %s*\n", money(q.TotalBs))
	b.WriteString(separatorRow + "\n\n")
	b.WriteString("¿Confirmas que los datos son correctos?")
	return chat.Message{Text: b.String(), Keyboard: confirmKeyboard(), Markdown: true}
}
