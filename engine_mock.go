package main

type MockEngine struct {
	spf            map[SPFReason]int
	abr            int
	asbr           map[RouteType]int
	routerID       int
	renegotiations []bool
	costs          map[string]uint32
	costChanges    int
	areaChanges    map[string]int
	passiveChanges map[string]int
	defaultModes   []DefaultOriginateMode
	finishedCount  int
	finishedVRFs   []string
}

func NewMockEngine() *MockEngine {
	return &MockEngine{
		spf:            make(map[SPFReason]int),
		asbr:           make(map[RouteType]int),
		costs:          make(map[string]uint32),
		areaChanges:    make(map[string]int),
		passiveChanges: make(map[string]int),
	}
}

func (e *MockEngine) ScheduleSPF(o *Instance, reason SPFReason) {
	e.spf[reason]++
}

func (e *MockEngine) ScheduleABRTask(o *Instance) {
	e.abr++
}

func (e *MockEngine) ScheduleASBRUpdate(o *Instance, t RouteType) {
	e.asbr[t]++
}

func (e *MockEngine) RouterIDUpdate(o *Instance) {
	e.routerID++
}

func (e *MockEngine) RenegotiateCapabilities(o *Instance, opaque bool) {
	e.renegotiations = append(e.renegotiations, opaque)
}

func (e *MockEngine) InterfaceCostChanged(ifp *Interface, cost uint32) {
	e.costs[ifp.Name] = cost
	e.costChanges++
}

func (e *MockEngine) InterfaceAreaChanged(ifp *Interface) {
	e.areaChanges[ifp.Name]++
}

func (e *MockEngine) PassiveChanged(ifp *Interface) {
	e.passiveChanges[ifp.Name]++
}

func (e *MockEngine) RedistributeDefault(o *Instance, mode DefaultOriginateMode) {
	e.defaultModes = append(e.defaultModes, mode)
}

func (e *MockEngine) InstanceFinished(o *Instance) {
	e.finishedCount++
	e.finishedVRFs = append(e.finishedVRFs, o.VRF)
}

func (e *MockEngine) SPFCount() int {
	count := 0
	for _, c := range e.spf {
		count += c
	}
	return count
}

func (e *MockEngine) Reset() {
	*e = *NewMockEngine()
}
