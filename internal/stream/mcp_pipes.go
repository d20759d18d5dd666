package stream

import (
	"os"
	"os/exec"
)

// mcpChannel is the engine's end of the agent subprocess's embedded MCP
// stdio channel (§4.3/§4.5 step 6). It is wired as two anonymous pipes
// passed via exec.Cmd.ExtraFiles, separate from the subprocess's normal
// stdout (which carries the line-delimited turn-event stream) and stdin
// (left unused by the agent CLI in this wiring): fd 3 is the agent's
// request-write end, fd 4 is the agent's response-read end.
type mcpChannel struct {
	// requests is the engine's read end: the agent writes JSON-RPC
	// requests to its fd 3, the engine reads them here.
	requests *os.File
	// responses is the engine's write end: the engine writes JSON-RPC
	// responses here, the agent reads them from its fd 4.
	responses *os.File

	// childReqWrite/childRespRead are the child-side halves duplicated
	// into the subprocess via ExtraFiles; the parent must close its own
	// copies of these once the subprocess has started so EOF propagates
	// correctly when the child exits.
	childReqWrite *os.File
	childRespRead *os.File
}

// attachMCPChannel wires cmd's fd 3/4 to a fresh pair of pipes and returns
// the engine-side ends. Call closeChildSideFDs after cmd.Start().
func attachMCPChannel(cmd *exec.Cmd) (*mcpChannel, error) {
	reqRead, reqWrite, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	respRead, respWrite, err := os.Pipe()
	if err != nil {
		reqRead.Close()
		reqWrite.Close()
		return nil, err
	}

	cmd.ExtraFiles = []*os.File{reqWrite, respRead}

	return &mcpChannel{
		requests:      reqRead,
		responses:     respWrite,
		childReqWrite: reqWrite,
		childRespRead: respRead,
	}, nil
}

// closeChildSideFDs closes the parent's copies of the fds duplicated into
// the child, so the engine's read end observes EOF when the child exits.
func (c *mcpChannel) closeChildSideFDs() {
	c.childReqWrite.Close()
	c.childRespRead.Close()
}

// close releases the engine-side ends of both pipes.
func (c *mcpChannel) close() {
	c.requests.Close()
	c.responses.Close()
}
