package scanning

import (
	"fmt"
	"strings"
)

// receiptScanPrompt is shared by every provider
var receiptScanPrompt = fmt.Sprintf(`You are reading a receipt or invoice submitted with a business expense report. Read all text in the image and extract:

1. **Vendor**: the merchant or business name, usually the largest text at the top.
2. **Date**: the transaction or invoice date, converted to YYYY-MM-DD.
3. **Amount**: the final total paid, as a number without currency symbols.
4. **Currency**: the ISO 4217 code (USD, EUR, INR, ...). Infer it from symbols or the address if it is not printed.
5. **Tax amount**: the total tax (VAT, GST, sales tax) if it is shown separately.
6. **Category**: one of %s.

Return ONLY valid JSON in this exact format:
{
  "vendor": "Vendor Name",
  "date": "YYYY-MM-DD",
  "amount": 0.00,
  "currency": "USD",
  "tax_amount": 0.00,
  "category": "Other"
}

Important:
- Amounts must be numbers, not strings
- Use null for any field you cannot find
- Do not include any text before or after the JSON
- Do not use markdown code blocks`, strings.Join(Categories, ", "))
