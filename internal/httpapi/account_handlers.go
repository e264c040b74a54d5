package httpapi

import (
	"fmt"
	"net/http"

	"logbook.org/internal/accounts"
	"logbook.org/internal/auth"
)

type departmentRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type staffRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Designation string `json:"designation"`
	Phone       string `json:"phone"`
}

type studentRequest struct {
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	RegistrationNumber string    `json:"registrationNumber"`
	UniversityRegNo    string    `json:"universityRegNo"`
	Phone              string    `json:"phone"`
	RotationStart      *jsonDate `json:"rotationStart"`
	RotationEnd        *jsonDate `json:"rotationEnd"`
	GuardianName       string    `json:"guardianName"`
	GuardianPhone      string    `json:"guardianPhone"`
}

func (req studentRequest) input() accounts.StudentInput {
	return accounts.StudentInput{
		Name:  req.Name,
		Email: req.Email,
		Profile: accounts.StudentProfile{
			RegistrationNumber: req.RegistrationNumber,
			UniversityRegNo:    req.UniversityRegNo,
			Phone:              req.Phone,
			RotationStart:      req.RotationStart.ptr(),
			RotationEnd:        req.RotationEnd.ptr(),
			GuardianName:       req.GuardianName,
			GuardianPhone:      req.GuardianPhone,
		},
	}
}

// --- organization: departments ---

func (a *API) listDepartments(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items, err := a.accounts.ListDepartments(r.Context(), c)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) createDepartment(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req departmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	issued, err := a.accounts.CreateDepartment(r.Context(), c, accounts.DepartmentInput{Name: req.Name, Email: req.Email})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/organization/departments/%d", issued.Account.ID))
	writeJSON(w, http.StatusCreated, issued)
}

func (a *API) getDepartment(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	d, err := a.accounts.GetDepartment(r.Context(), c, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) updateDepartment(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req departmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	d, err := a.accounts.UpdateDepartment(r.Context(), c, id, accounts.DepartmentInput{Name: req.Name, Email: req.Email})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) deleteDepartment(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.accounts.DeleteDepartment(r.Context(), c, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resetDepartmentPassword(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	issued, err := a.accounts.ResetDepartmentSecret(r.Context(), c, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

// --- department: staff ---

func (a *API) listStaff(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	deptID, err := pathID(r, "departmentId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items, err := a.accounts.ListStaff(r.Context(), c, deptID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) createStaff(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	deptID, err := pathID(r, "departmentId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req staffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	issued, err := a.accounts.CreateStaff(r.Context(), c, deptID, accounts.StaffInput(req))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/departments/%d/staff/%d", deptID, issued.Account.ID))
	writeJSON(w, http.StatusCreated, issued)
}

func (a *API) getStaff(w http.ResponseWriter, r *http.Request) {
	c, deptID, staffID, err := departmentStaffPath(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, err := a.accounts.GetStaff(r.Context(), c, deptID, staffID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) updateStaff(w http.ResponseWriter, r *http.Request) {
	c, deptID, staffID, err := departmentStaffPath(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req staffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, err := a.accounts.UpdateStaff(r.Context(), c, deptID, staffID, accounts.StaffInput(req))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) deleteStaff(w http.ResponseWriter, r *http.Request) {
	c, deptID, staffID, err := departmentStaffPath(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.accounts.DeleteStaff(r.Context(), c, deptID, staffID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resetStaffPassword(w http.ResponseWriter, r *http.Request) {
	c, deptID, staffID, err := departmentStaffPath(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	issued, err := a.accounts.ResetStaffSecret(r.Context(), c, deptID, staffID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func departmentStaffPath(r *http.Request) (c auth.Claims, deptID, staffID int64, err error) {
	if c, err = claimsFrom(r); err != nil {
		return
	}
	if deptID, err = pathID(r, "departmentId"); err != nil {
		return
	}
	staffID, err = pathID(r, "staffId")
	return
}

// --- staff: students ---

func (a *API) listStudents(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	staffID, err := pathID(r, "staffId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items, err := a.accounts.ListStudents(r.Context(), c, staffID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (a *API) createStudent(w http.ResponseWriter, r *http.Request) {
	c, err := claimsFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	staffID, err := pathID(r, "staffId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req studentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	issued, err := a.accounts.CreateStudent(r.Context(), c, staffID, req.input())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/staff/%d/students/%d", staffID, issued.Account.ID))
	writeJSON(w, http.StatusCreated, issued)
}

func (a *API) getStudent(w http.ResponseWriter, r *http.Request) {
	c, staffID, studentID, err := staffChildPath(r, "studentId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, err := a.accounts.GetStudent(r.Context(), c, staffID, studentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) updateStudent(w http.ResponseWriter, r *http.Request) {
	c, staffID, studentID, err := staffChildPath(r, "studentId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req studentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, err := a.accounts.UpdateStudent(r.Context(), c, staffID, studentID, req.input())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) deleteStudent(w http.ResponseWriter, r *http.Request) {
	c, staffID, studentID, err := staffChildPath(r, "studentId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.accounts.DeleteStudent(r.Context(), c, staffID, studentID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resetStudentPassword(w http.ResponseWriter, r *http.Request) {
	c, staffID, studentID, err := staffChildPath(r, "studentId")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	issued, err := a.accounts.ResetStudentSecret(r.Context(), c, staffID, studentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func staffChildPath(r *http.Request, child string) (c auth.Claims, staffID, id int64, err error) {
	if c, err = claimsFrom(r); err != nil {
		return
	}
	if staffID, err = pathID(r, "staffId"); err != nil {
		return
	}
	id, err = pathID(r, child)
	return
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
