// internal/extract/types.go
package extract

import "errors"

var (
	// ErrFieldNotFound reports that no parameter row matched a requested label.
	ErrFieldNotFound = errors.New("field not found")
	// ErrOptionNotFound reports that no option of a select matched a requested value.
	ErrOptionNotFound = errors.New("option not found")
)

// Sex as printed in the patient cell.
type Sex string

const (
	SexMale    Sex = "M"
	SexFemale  Sex = "F"
	SexUnknown Sex = "unknown"
)

// PatientCell is what the order list packs into its patient column.
type PatientCell struct {
	Cedula   string `json:"cedula"`
	Edad     string `json:"edad"`
	Sexo     Sex    `json:"sexo"`
	Paciente string `json:"paciente"`
}

// OrderSummary is one row of the order list. Fields keep the site's native
// formatting; dates and amounts are not parsed.
type OrderSummary struct {
	OrderNumber string `json:"numero_orden"`
	Date        string `json:"fecha"`
	PatientCell
	Status string `json:"estado"`
	Value  string `json:"valor"`
	// InternalID is the only key stable across pages. Nil when the row did
	// not expose it.
	InternalID *int64 `json:"id_interno"`
}

// ExamStatus is the validation state shown next to an exam header.
type ExamStatus string

const (
	ExamValidated ExamStatus = "validated"
	ExamPending   ExamStatus = "pending"
)

// FieldKind is the control type behind a result field.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindSelect FieldKind = "select"
)

// Field is one fillable result slot.
type Field struct {
	Name           string    `json:"field"`
	Kind           FieldKind `json:"kind"`
	CurrentValue   string    `json:"value"`
	ReferenceRange string    `json:"reference,omitempty"`
	Options        []string  `json:"options,omitempty"`
	// Control is the position of the field's control among all input,
	// select and textarea elements of the page.
	Control int `json:"-"`
}

// ExamSection groups the fields of one exam on the results page.
type ExamSection struct {
	Name       string     `json:"exam"`
	Status     ExamStatus `json:"status,omitempty"`
	SampleType string     `json:"sample,omitempty"`
	Fields     []Field    `json:"fields"`
}

// ResultForm is the extracted results page of one order.
type ResultForm struct {
	Exams []ExamSection `json:"exams"`
	// Tier names the heuristic that produced Exams.
	Tier string `json:"tier,omitempty"`
}

// EditPatient is the patient block of the order edit form.
type EditPatient struct {
	ID         string `json:"cedula"`
	FirstNames string `json:"nombres"`
	LastNames  string `json:"apellidos"`
}

// EditExam is one exam line of the order edit form.
type EditExam struct {
	Code   *string `json:"codigo"`
	Name   string  `json:"nombre"`
	Value  string  `json:"valor"`
	Status string  `json:"estado,omitempty"`
}

// Totals are currency strings as displayed.
type Totals struct {
	Subtotal string `json:"subtotal,omitempty"`
	Discount string `json:"descuento,omitempty"`
	Total    string `json:"total,omitempty"`
}

// OrderEditForm is the extracted order create/edit page.
type OrderEditForm struct {
	OrderNumber string      `json:"numero_orden,omitempty"`
	Patient     EditPatient `json:"paciente"`
	Exams       []EditExam  `json:"examenes"`
	Totals      Totals      `json:"totales"`
	Tier        string      `json:"tier,omitempty"`
}

// MarshalRecord encodes an extracted record the way tool results carry it.
// Map keys are sorted, so equal records always encode to equal bytes.
func MarshalRecord(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
